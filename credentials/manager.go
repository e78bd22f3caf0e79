package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TokenManager is the token lifecycle surface over a Store. It adds JWT
// expiry inference on write and validity classification on read.
type TokenManager struct {
	store *Store
}

// NewTokenManager creates a manager over the given store.
func NewTokenManager(store *Store) *TokenManager {
	return &TokenManager{store: store}
}

// TokenOption customizes a record written by StoreToken.
type TokenOption func(*Credentials)

// WithType sets the credential type (default TypeToken).
func WithType(t Type) TokenOption {
	return func(c *Credentials) { c.Type = t }
}

// WithExpiresAt sets an explicit expiry.
func WithExpiresAt(t time.Time) TokenOption {
	return func(c *Credentials) { c.ExpiresAt = t }
}

// WithRefreshToken attaches a refresh token to the record.
func WithRefreshToken(refreshToken string) TokenOption {
	return func(c *Credentials) { c.RefreshToken = refreshToken }
}

// StoreToken writes a token under profile, overwriting any existing record.
// JWT records without an explicit expiry get one parsed from the token's exp
// claim when present.
func (m *TokenManager) StoreToken(ctx context.Context, profile, token string, opts ...TokenOption) error {
	creds := Credentials{
		Profile: profile,
		Type:    TypeToken,
		Token:   token,
	}
	for _, opt := range opts {
		opt(&creds)
	}

	if creds.Type == TypeJWT && creds.ExpiresAt.IsZero() {
		if exp, ok := ParseJWTExpiration(token); ok {
			creds.ExpiresAt = exp
		}
	}

	return m.store.Save(ctx, creds)
}

// RetrieveValidToken returns the token stored under profile. An unknown
// profile yields ("", nil): absence is not an error. A record whose expiry
// has passed yields ErrTokenExpired so callers can branch to a refresh or
// re-authentication path instead of treating it as absent. Records without
// an expiry are returned indefinitely.
func (m *TokenManager) RetrieveValidToken(ctx context.Context, profile string) (string, error) {
	creds, err := m.store.Get(ctx, profile)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if creds.Expired(time.Now()) {
		return "", fmt.Errorf("profile %q: %w", profile, ErrTokenExpired)
	}
	return creds.Token, nil
}

// Credentials returns the full record under profile, including refresh token
// and expiry. Returns ErrNotFound for unknown profiles.
func (m *TokenManager) Credentials(ctx context.Context, profile string) (Credentials, error) {
	return m.store.Get(ctx, profile)
}

// RevokeToken removes the record under profile. Revoking an unknown profile
// is a no-op.
func (m *TokenManager) RevokeToken(ctx context.Context, profile string) error {
	return m.store.Delete(ctx, profile)
}

// ListTokenProfiles returns the stored profiles and their types for
// diagnostics.
func (m *TokenManager) ListTokenProfiles(ctx context.Context) ([]ProfileInfo, error) {
	return m.store.List(ctx)
}
