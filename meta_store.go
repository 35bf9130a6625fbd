package main

import (
	"database/sql"
	"fmt"
	"strings"
)

// metaStore is a tiny key/value table used for ingest bookkeeping (log
// offsets, rotation markers).
type metaStore struct {
	db *sql.DB
}

func newMetaStore(db *sql.DB) *metaStore {
	return &metaStore{db: db}
}

func (s *metaStore) Set(key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("meta store not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errEmptyIdentifier
	}
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value, or "" when the key is absent.
func (s *metaStore) Get(key string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("meta store not initialized")
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}
