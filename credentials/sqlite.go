package credentials

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS secrets (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteSecretStore keeps secrets in a local SQLite database, giving
// long-running tools a durable vault without a separate service.
type SQLiteSecretStore struct {
	db *sql.DB
}

// NewSQLiteSecretStore opens (creating if needed) the vault database at path.
func NewSQLiteSecretStore(path string) (*SQLiteSecretStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credentials: sqlite path is empty")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("credentials: open sqlite vault: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("credentials: init sqlite schema: %w", err)
	}

	return &SQLiteSecretStore{db: db}, nil
}

func (s *SQLiteSecretStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credentials: sqlite get: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteSecretStore) Store(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("credentials: sqlite store: %w", err)
	}
	return nil
}

func (s *SQLiteSecretStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("credentials: sqlite delete: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSecretStore) Close() error {
	return s.db.Close()
}
