package store

import (
	"context"
	"database/sql"
	"errors"
)

// PutCredentials persists the serialized delegated-authorization
// credential. A single slot is kept; a new grant replaces the old one.
func (s *Store) PutCredentials(ctx context.Context, raw string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(id, credentials) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET credentials=excluded.credentials`, raw)
	return err
}

// GetCredentials returns the stored credential blob, or ErrNotFound
// when no grant has been stored yet.
func (s *Store) GetCredentials(ctx context.Context) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT credentials FROM tokens WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}
