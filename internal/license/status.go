package license

import "time"

// Status is the state of a stored license record at evaluation time.
//
// Transitions: absent -> issued -> expired are driven by issuance and the
// passage of time; tampered is terminal for a given record. Expiry is
// re-evaluated on every Check call, never by a background timer.
type Status string

const (
	// StatusAbsent means no license record exists.
	StatusAbsent Status = "absent"
	// StatusIssued means the signature verifies and the grant is current.
	StatusIssued Status = "issued"
	// StatusExpired means the signature verifies but the grant is past its
	// term.
	StatusExpired Status = "expired"
	// StatusTampered means the signature does not match the payload. For
	// access control it is identical to absent; it is logged separately
	// for forensics.
	StatusTampered Status = "tampered"
)

// Entitled reports whether the status grants access.
func (s Status) Entitled() bool {
	return s == StatusIssued
}

// Grant terms per tier. A zero duration means the grant never expires.
const (
	freeTerm = 14 * 24 * time.Hour
	paidTerm = 365 * 24 * time.Hour
)

// Term returns the validity period for a grant. Founder grants are
// lifetime; FREE is a short trial; paid tiers run a year from issuance.
func Term(tier Tier, isFounder bool) time.Duration {
	if isFounder {
		return 0
	}
	if tier == TierFree {
		return freeTerm
	}
	return paidTerm
}

// ExpiresAt returns the expiry time of the payload's grant, or the zero
// time for grants that never expire.
func (p Payload) ExpiresAt() time.Time {
	term := Term(p.Tier, p.IsFounder)
	if term == 0 {
		return time.Time{}
	}
	return p.Issued().Add(term)
}

// Check evaluates the state of a stored record.
//
// A nil record is absent. A record whose signature fails verification is
// tampered, regardless of why. Unsigned legacy records are treated as
// tampered unless the service was built with WithAcceptLegacy.
func (s *Service) Check(rec *Record) Status {
	if rec == nil {
		return StatusAbsent
	}

	if rec.Signature == "" {
		if !s.acceptLegacy {
			s.logger.Warn("rejecting unsigned legacy license record",
				"customer_id", rec.Payload.CustomerID,
				"license_key", rec.LicenseKey)
			return StatusTampered
		}
		s.logger.Info("accepting unsigned legacy license record",
			"customer_id", rec.Payload.CustomerID)
	} else if !s.Verify(rec.Payload, rec.Signature) {
		s.logger.Warn("license signature mismatch",
			"customer_id", rec.Payload.CustomerID,
			"license_key", rec.LicenseKey)
		return StatusTampered
	}

	if exp := rec.Payload.ExpiresAt(); !exp.IsZero() && s.now().After(exp) {
		return StatusExpired
	}
	return StatusIssued
}
