package credentials

import "fmt"

// Secret store drivers selectable through Config.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config selects and configures a secret store backend.
type Config struct {
	// Driver is one of DriverMemory, DriverFile, DriverSQLite. Empty means
	// memory.
	Driver string
	// Path locates the vault for the file and sqlite drivers.
	Path string
}

// OpenSecretStore builds the backend described by cfg.
func OpenSecretStore(cfg Config) (SecretStore, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemorySecretStore(), nil
	case DriverFile:
		return NewFileSecretStore(cfg.Path)
	case DriverSQLite:
		return NewSQLiteSecretStore(cfg.Path)
	default:
		return nil, fmt.Errorf("credentials: unknown secret store driver %q", cfg.Driver)
	}
}
