package storage

import (
	"database/sql"
	"fmt"
)

// InitSchema creates all required tables and indexes.
// Idempotent; safe to call on every startup.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	ddlStatements := []string{
		// api_keys: bcrypt-hashed keys for the fetch endpoint
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_hash TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,

		// licenses: registry of issued licenses; record_encrypted holds the
		// AES-GCM-encrypted signed record JSON
		`CREATE TABLE IF NOT EXISTS licenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			license_key TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			is_founder BOOLEAN NOT NULL DEFAULT FALSE,
			issued_at TIMESTAMP NOT NULL,
			record_encrypted BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_licenses_key ON licenses(license_key)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_customer ON licenses(customer_id)`,
	}

	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}
