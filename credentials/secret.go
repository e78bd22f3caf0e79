package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SecretStore is the narrow vault interface the credential layer needs from
// its host: an opaque key-value store for secret strings. Implementations
// must be safe for concurrent use.
type SecretStore interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Store writes value under key, overwriting any previous value.
	Store(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemorySecretStore keeps secrets in process memory. Suitable for tests and
// short-lived tools.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemorySecretStore returns an empty in-memory vault.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]string)}
}

func (s *MemorySecretStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.secrets[key]
	return value, ok, nil
}

func (s *MemorySecretStore) Store(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = value
	return nil
}

func (s *MemorySecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}

// FileSecretStore persists secrets as a JSON object in a single vault file
// with 0600 permissions. Writes go through a temp file and rename so a crash
// never leaves a half-written vault.
type FileSecretStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSecretStore opens (or prepares to create) a vault file at path.
func NewFileSecretStore(path string) (*FileSecretStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credentials: vault path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("credentials: create vault dir: %w", err)
	}
	return &FileSecretStore{path: path}, nil
}

func (s *FileSecretStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.load()
	if err != nil {
		return "", false, err
	}
	value, ok := vault[key]
	return value, ok, nil
}

func (s *FileSecretStore) Store(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.load()
	if err != nil {
		return err
	}
	vault[key] = value
	return s.save(vault)
}

func (s *FileSecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := vault[key]; !ok {
		return nil
	}
	delete(vault, key)
	return s.save(vault)
}

func (s *FileSecretStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read vault: %w", err)
	}

	vault := map[string]string{}
	if len(data) == 0 {
		return vault, nil
	}
	if err := json.Unmarshal(data, &vault); err != nil {
		return nil, fmt.Errorf("credentials: parse vault: %w", err)
	}
	return vault, nil
}

func (s *FileSecretStore) save(vault map[string]string) error {
	data, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode vault: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credentials: write vault: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credentials: replace vault: %w", err)
	}
	return nil
}
