// Package storage provides SQLite persistence for FetchGuard: API keys for
// the fetch endpoint and the registry of issued licenses.
package storage

import (
	"context"
	"time"
)

// APIKey is a stored proxy API key. The key itself is never stored, only
// its bcrypt hash.
type APIKey struct {
	ID        int64
	KeyHash   string
	Name      string
	CreatedAt time.Time
}

// IssuedLicense is a row in the issued-license registry. The full signed
// record is stored encrypted at rest; the lookup columns are plaintext.
type IssuedLicense struct {
	ID         int64
	LicenseKey string
	CustomerID string
	Tier       string
	IsFounder  bool
	IssuedAt   time.Time
	Record     []byte // decrypted signed-record JSON
	CreatedAt  time.Time
}

// Storage defines the persistence operations used by the service and CLI.
type Storage interface {
	// API key operations
	CreateAPIKey(ctx context.Context, name, key string) (int64, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id int64) error

	// Issued-license registry
	RecordLicense(ctx context.Context, lic *IssuedLicense) (int64, error)
	GetLicenseByKey(ctx context.Context, licenseKey string) (*IssuedLicense, error)
	ListLicenses(ctx context.Context) ([]*IssuedLicense, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
