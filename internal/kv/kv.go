package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store is the key/value facade over the kv table. All values are strings;
// callers serialize richer shapes themselves.
type Store struct {
	db *DB
}

// Open opens (creating if necessary) the database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.Writer); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get retrieves the value for key. found is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (value string, found bool, err error) {
	const query = `SELECT value FROM kv WHERE key = ?`
	err = s.db.Reader.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// GetDefault retrieves the value for key, returning def when absent.
func (s *Store) GetDefault(ctx context.Context, key, def string) (string, error) {
	value, found, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return def, nil
	}
	return value, nil
}

// Set stores or replaces the value for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const query = `INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`
	if _, err := s.db.Writer.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv WHERE key = ?`
	if _, err := s.db.Writer.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
