package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(NewMemorySecretStore())
}

func TestStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	err := store.Save(ctx, Credentials{
		Profile:      "staging",
		Type:         TypeJWT,
		Token:        "access",
		RefreshToken: "refresh",
		ExpiresAt:    expiry,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", got.Profile)
	assert.Equal(t, TypeJWT, got.Type)
	assert.Equal(t, "access", got.Token)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(expiry))
}

func TestStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, Credentials{Profile: "p", Token: "first"}))
	require.NoError(t, store.Save(ctx, Credentials{Profile: "p", Token: "second", Type: TypeJWT}))

	got, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Token)
	assert.Equal(t, TypeJWT, got.Type)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, TypeJWT, infos[0].Type)
}

func TestStoreSaveEmptyProfile(t *testing.T) {
	store := newTestStore(t)
	err := store.Save(context.Background(), Credentials{Token: "tok"})
	assert.Error(t, err)
}

func TestStoreSaveDefaultsType(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, Credentials{Profile: "p", Token: "tok"}))

	got, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, TypeToken, got.Type)
}

func TestStoreGetUnknownProfile(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, Credentials{Profile: "p", Token: "tok"}))
	require.NoError(t, store.Delete(ctx, "p"))

	_, err := store.Get(ctx, "p")
	assert.ErrorIs(t, err, ErrNotFound)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStoreDeleteUnknownProfileIsNoOp(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Delete(context.Background(), "nobody"))
}

func TestStoreListSorted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, Credentials{Profile: "zeta", Token: "t", Type: TypeOAuth}))
	require.NoError(t, store.Save(ctx, Credentials{Profile: "alpha", Token: "t", Type: TypeJWT}))
	require.NoError(t, store.Save(ctx, Credentials{Profile: "mid", Token: "t"}))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []ProfileInfo{
		{Profile: "alpha", Type: TypeJWT},
		{Profile: "mid", Type: TypeToken},
		{Profile: "zeta", Type: TypeOAuth},
	}, infos)
}

func TestStoreListEmpty(t *testing.T) {
	store := newTestStore(t)
	infos, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}
