package persist

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by a single SQLite table.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLite opens (creating if needed) the database at path and returns a
// store scoped to namespace.
func OpenSQLite(path, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS nvs (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteStore) Get(key string, def uint16) (uint16, error) {
	var value int64
	err := s.db.QueryRow(`
		SELECT value FROM nvs WHERE namespace = ? AND key = ?
	`, s.namespace, key).Scan(&value)

	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return uint16(value), nil
}

func (s *SQLiteStore) Put(key string, value uint16) error {
	_, err := s.db.Exec(`
		INSERT INTO nvs (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.namespace, key, int64(value), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
