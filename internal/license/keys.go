package license

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// keySalt is a fixed product salt mixed into license key derivation so keys
// differ from plain hashes of the customer ID.
const keySalt = "fetchguard-license-v1"

// keyPrefix is the product-specific prefix on every license key.
const keyPrefix = "FGD"

// DeriveKey computes the human-readable license key for a grant.
//
// The key is a SHA-256 digest of (customerID, tier, founder flag, product
// salt), truncated to 8 bytes and formatted as four uppercase hex groups:
// FGD-XXXX-XXXX-XXXX-XXXX. Derivation is deliberately deterministic so
// support staff can regenerate a lost key from billing records.
func DeriveKey(customerID string, tier Tier, isFounder bool) string {
	input := fmt.Sprintf("%s|%s|%t|%s", customerID, tier, isFounder, keySalt)
	sum := sha256.Sum256([]byte(input))

	hexDigest := strings.ToUpper(fmt.Sprintf("%x", sum[:8]))

	var b strings.Builder
	b.WriteString(keyPrefix)
	for i := 0; i < len(hexDigest); i += 4 {
		b.WriteByte('-')
		b.WriteString(hexDigest[i : i+4])
	}
	return b.String()
}

// ValidKeyFormat reports whether key looks like a FetchGuard license key.
// It checks shape only, not authenticity.
func ValidKeyFormat(key string) bool {
	parts := strings.Split(key, "-")
	if len(parts) != 5 || parts[0] != keyPrefix {
		return false
	}
	for _, group := range parts[1:] {
		if len(group) != 4 {
			return false
		}
		for _, c := range group {
			isHex := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
			if !isHex {
				return false
			}
		}
	}
	return true
}
