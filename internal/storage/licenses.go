package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordLicense inserts an issued license into the registry. The signed
// record JSON in lic.Record is encrypted before it touches disk. Returns
// ErrDuplicate when the license key is already registered.
func (s *SQLiteStorage) RecordLicense(ctx context.Context, lic *IssuedLicense) (int64, error) {
	if lic.LicenseKey == "" {
		return 0, fmt.Errorf("license key is required")
	}
	if lic.CustomerID == "" {
		return 0, fmt.Errorf("customer ID is required")
	}

	encrypted, err := encryptBlob(lic.Record, s.encryptionKey)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt license record: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (license_key, customer_id, tier, is_founder, issued_at, record_encrypted)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		lic.LicenseKey, lic.CustomerID, lic.Tier, lic.IsFounder, lic.IssuedAt, encrypted)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to record license: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return id, nil
}

// GetLicenseByKey looks up a registered license and decrypts its stored
// record. Returns ErrNotFound for unknown keys.
func (s *SQLiteStorage) GetLicenseByKey(ctx context.Context, licenseKey string) (*IssuedLicense, error) {
	var lic IssuedLicense
	var encrypted []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT id, license_key, customer_id, tier, is_founder, issued_at, record_encrypted, created_at
		 FROM licenses WHERE license_key = ?`,
		licenseKey).
		Scan(&lic.ID, &lic.LicenseKey, &lic.CustomerID, &lic.Tier, &lic.IsFounder,
			&lic.IssuedAt, &encrypted, &lic.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get license: %w", err)
	}

	record, err := decryptBlob(encrypted, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt license record: %w", err)
	}
	lic.Record = record

	return &lic, nil
}

// ListLicenses returns all registered licenses, newest first, without
// decrypting the stored records (Record is left nil).
func (s *SQLiteStorage) ListLicenses(ctx context.Context) ([]*IssuedLicense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, license_key, customer_id, tier, is_founder, issued_at, created_at
		 FROM licenses ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var licenses []*IssuedLicense
	for rows.Next() {
		var lic IssuedLicense
		if err := rows.Scan(&lic.ID, &lic.LicenseKey, &lic.CustomerID, &lic.Tier,
			&lic.IsFounder, &lic.IssuedAt, &lic.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan license row: %w", err)
		}
		licenses = append(licenses, &lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}

	if licenses == nil {
		licenses = make([]*IssuedLicense, 0)
	}
	return licenses, nil
}
