// Package auth validates API keys for the fetch endpoints.
package auth

import (
	"context"
	"errors"

	"github.com/launchkit/fetchguard/internal/storage"
)

// Errors for authentication failures.
var (
	// ErrMissingKey indicates no API key was provided.
	ErrMissingKey = errors.New("auth: missing API key")
	// ErrInvalidKey indicates the API key is not valid.
	ErrInvalidKey = errors.New("auth: invalid API key")
)

// KeyInfo identifies a validated API key.
type KeyInfo struct {
	KeyID   int64
	KeyName string
}

// Storage is the persistence dependency; *storage.SQLiteStorage satisfies it.
type Storage interface {
	ListAPIKeys(ctx context.Context) ([]*storage.APIKey, error)
}

// Validator checks API keys against stored bcrypt hashes.
type Validator struct {
	storage Storage
}

// NewValidator creates a Validator backed by s.
func NewValidator(s Storage) *Validator {
	return &Validator{storage: s}
}

// ValidateKey checks whether apiKey matches a stored key.
// Returns KeyInfo on success, ErrInvalidKey or ErrMissingKey otherwise.
func (v *Validator) ValidateKey(ctx context.Context, apiKey string) (*KeyInfo, error) {
	if apiKey == "" {
		return nil, ErrMissingKey
	}

	keys, err := v.storage.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}

	// bcrypt hashes are salted, so every stored hash has to be tried.
	for _, key := range keys {
		if storage.VerifyKey(apiKey, key.KeyHash) == nil {
			return &KeyInfo{KeyID: key.ID, KeyName: key.Name}, nil
		}
	}

	return nil, ErrInvalidKey
}
