package storage

import (
	"context"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// CreateAPIKey stores a new API key under its bcrypt hash and returns the
// new row ID. Returns ErrDuplicate if the same key is stored twice.
func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, name, key string) (int64, error) {
	keyHash, err := HashKey(key)
	if err != nil {
		return 0, fmt.Errorf("failed to hash API key: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO api_keys (key_hash, name) VALUES (?, ?)",
		keyHash, name)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to create API key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return id, nil
}

// ListAPIKeys returns all stored API keys, newest first.
// Returns an empty slice, not nil, when no keys exist.
func (s *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, key_hash, name, created_at FROM api_keys ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.Name, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan API key row: %w", err)
		}
		keys = append(keys, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	if keys == nil {
		keys = make([]*APIKey, 0)
	}
	return keys, nil
}

// DeleteAPIKey removes an API key by ID. Returns ErrNotFound for unknown IDs.
func (s *SQLiteStorage) DeleteAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure (extended code 2067, base code SQLITE_CONSTRAINT).
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == 2067 || (sqliteErr.Code()&0xFF) == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
