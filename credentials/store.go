package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

const (
	profileKeyPrefix = "computor.credential."
	profileIndexKey  = "computor.credential.__index"
)

// Store persists credential profiles through a SecretStore. Each profile is
// one JSON record under a namespaced key; a separate index record tracks the
// known profiles so they can be listed without vault enumeration (secret
// vaults expose get/store/delete only).
type Store struct {
	mu      sync.Mutex
	secrets SecretStore
}

// NewStore creates a credential store over the given vault.
func NewStore(secrets SecretStore) *Store {
	return &Store{secrets: secrets}
}

// Save writes the record, overwriting any existing record under the same
// profile.
func (s *Store) Save(ctx context.Context, creds Credentials) error {
	if creds.Profile == "" {
		return fmt.Errorf("credentials: profile name is empty")
	}
	if creds.Type == "" {
		creds.Type = TypeToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credentials: encode profile %q: %w", creds.Profile, err)
	}
	if err := s.secrets.Store(ctx, profileKeyPrefix+creds.Profile, string(data)); err != nil {
		return err
	}

	return s.updateIndex(ctx, func(index map[string]Type) {
		index[creds.Profile] = creds.Type
	})
}

// Get returns the record under profile, or ErrNotFound.
func (s *Store) Get(ctx context.Context, profile string) (Credentials, error) {
	value, ok, err := s.secrets.Get(ctx, profileKeyPrefix+profile)
	if err != nil {
		return Credentials{}, err
	}
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, profile)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(value), &creds); err != nil {
		return Credentials{}, fmt.Errorf("credentials: decode profile %q: %w", profile, err)
	}
	return creds, nil
}

// Delete removes the record under profile. Unknown profiles are a no-op.
func (s *Store) Delete(ctx context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.secrets.Delete(ctx, profileKeyPrefix+profile); err != nil {
		return err
	}

	return s.updateIndex(ctx, func(index map[string]Type) {
		delete(index, profile)
	})
}

// List returns the stored profiles with their types, sorted by name.
func (s *Store) List(ctx context.Context) ([]ProfileInfo, error) {
	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ProfileInfo, 0, len(index))
	for profile, credType := range index {
		infos = append(infos, ProfileInfo{Profile: profile, Type: credType})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Profile < infos[j].Profile })
	return infos, nil
}

func (s *Store) loadIndex(ctx context.Context) (map[string]Type, error) {
	value, ok, err := s.secrets.Get(ctx, profileIndexKey)
	if err != nil {
		return nil, err
	}
	index := map[string]Type{}
	if !ok || value == "" {
		return index, nil
	}
	if err := json.Unmarshal([]byte(value), &index); err != nil {
		return nil, fmt.Errorf("credentials: decode profile index: %w", err)
	}
	return index, nil
}

func (s *Store) updateIndex(ctx context.Context, mutate func(map[string]Type)) error {
	index, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	mutate(index)

	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("credentials: encode profile index: %w", err)
	}
	return s.secrets.Store(ctx, profileIndexKey, string(data))
}
