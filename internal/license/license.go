// Package license issues and verifies tamper-evident license grants.
//
// A grant is a canonical payload signed with HMAC-SHA256 under a
// deployment-held secret. The verifier never trusts a client-supplied
// signature; it recomputes the signature from the payload and compares in
// constant time. Any verification problem fails closed: the license is
// treated as invalid, never as "unknown".
package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Tier is the entitlement level encoded in a license.
type Tier string

// Known tiers, lowest to highest.
const (
	TierFree       Tier = "FREE"
	TierStarter    Tier = "STARTER"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierEnterprise:
		return true
	}
	return false
}

// PayloadVersion is the current payload schema version.
const PayloadVersion = 1

// devFallbackSecret is the development signing secret. It must never be
// active in production; NewService refuses to construct in that case.
const devFallbackSecret = "fetchguard-dev-secret-do-not-ship"

// Payload is the signed content of a license grant. Field order is the
// canonical serialization order; the struct must not gain or reorder fields
// within a schema version or existing signatures stop verifying.
type Payload struct {
	CustomerID string `json:"customerId"`
	Tier       Tier   `json:"tier"`
	IsFounder  bool   `json:"isFounder"`
	IssuedAt   int64  `json:"issued"` // unix milliseconds
	Version    int    `json:"version"`
}

// canonical returns the exact byte serialization that gets signed.
// json.Marshal on a struct emits fields in declaration order, which makes
// the output stable across processes.
func (p Payload) canonical() ([]byte, error) {
	return json.Marshal(p)
}

// Issued returns the issuance time of the payload.
func (p Payload) Issued() time.Time {
	return time.UnixMilli(p.IssuedAt)
}

// Record is a payload together with its proof: the hex-encoded HMAC
// signature and the derived human-readable license key.
type Record struct {
	LicenseKey string  `json:"licenseKey"`
	Payload    Payload `json:"payload"`
	Signature  string  `json:"signature"`
}

// Errors returned by the service.
var (
	// ErrNoSecret indicates the signing secret is empty.
	ErrNoSecret = errors.New("license: signing secret is not configured")
	// ErrInsecureSecret indicates the development fallback secret is active
	// in a production environment.
	ErrInsecureSecret = errors.New("license: refusing to run in production with the development signing secret")
	// ErrInvalidTier indicates an unknown tier was requested.
	ErrInvalidTier = errors.New("license: invalid tier")
	// ErrMissingCustomer indicates an empty customer ID.
	ErrMissingCustomer = errors.New("license: customer ID is required")
)

// Service signs and verifies license grants. It is stateless and safe for
// concurrent use.
type Service struct {
	secret       []byte
	acceptLegacy bool
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for verification failures and forensics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAcceptLegacy allows unsigned legacy license records to verify during
// a migration window. Off by default; new deployments should not enable it.
func WithAcceptLegacy(accept bool) Option {
	return func(s *Service) { s.acceptLegacy = accept }
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service with the given signing secret.
//
// environment is the deployment mode ("production", "development", ...).
// In production an empty secret or the development fallback is a fatal
// configuration error: signing with a guessable secret is worse than
// refusing to start.
func NewService(secret, environment string, opts ...Option) (*Service, error) {
	if environment == "production" {
		if secret == "" {
			return nil, ErrNoSecret
		}
		if secret == devFallbackSecret {
			return nil, ErrInsecureSecret
		}
	}
	if secret == "" {
		secret = devFallbackSecret
	}

	s := &Service{
		secret: []byte(secret),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue builds a signed license record for the customer.
//
// The license key is derived deterministically from (customerID, tier,
// founder flag): the same inputs always produce the same visible key, so a
// lost key can be regenerated from billing records alone. The signature
// covers the full payload including the issuance timestamp.
func (s *Service) Issue(customerID string, tier Tier, isFounder bool) (*Record, error) {
	if customerID == "" {
		return nil, ErrMissingCustomer
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	payload := Payload{
		CustomerID: customerID,
		Tier:       tier,
		IsFounder:  isFounder,
		IssuedAt:   s.now().UnixMilli(),
		Version:    PayloadVersion,
	}

	sig, err := s.sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign license payload: %w", err)
	}

	return &Record{
		LicenseKey: DeriveKey(customerID, tier, isFounder),
		Payload:    payload,
		Signature:  sig,
	}, nil
}

// Verify reports whether signature matches the payload under the service
// secret. It returns false on any internal error rather than propagating
// it; causes are logged for operators.
func (s *Service) Verify(payload Payload, signature string) bool {
	expected, err := s.mac(payload)
	if err != nil {
		s.logger.Error("license verification failed internally",
			"customer_id", payload.CustomerID,
			"error", err)
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		// Not hex at all; treat as a plain mismatch.
		return false
	}

	// hmac.Equal is constant time and handles length mismatches without
	// revealing the expected length.
	return hmac.Equal(expected, provided)
}

// sign returns the hex-encoded HMAC-SHA256 signature of the payload.
func (s *Service) sign(payload Payload) (string, error) {
	mac, err := s.mac(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

func (s *Service) mac(payload Payload) ([]byte, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}
	data, err := payload.canonical()
	if err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write(data)
	return h.Sum(nil), nil
}
