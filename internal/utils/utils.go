// Package utils provides common validation helpers for identifiers flowing
// through the service: request/vault subject ids on subscriptions and Bitcoin
// addresses on payment lookups.
package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for validation functions
var (
	ErrNoSubjects      = errors.New("zero subjects requested")
	ErrTooManySubjects = errors.New("too many subjects requested")
)

// maxSubjectLength bounds subject ids; request ids are 0x-prefixed 32-byte
// hashes and vault ids are SS58 account addresses, both well under this.
const maxSubjectLength = 128

// ValidateSubject validates a single subscription subject: a request id or a
// vault account id. Subjects are opaque chain identifiers, so validation is
// limited to shape, not semantics.
func ValidateSubject(id string) error {
	if id == "" {
		return errors.New("subject id cannot be empty")
	}
	if len(id) > maxSubjectLength {
		return fmt.Errorf("subject id too long: %d characters", len(id))
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("subject id contains whitespace: %q", id)
	}
	return nil
}

// ValidateSubjects validates a slice of subscription subjects and enforces a
// per-subscription quantity limit.
func ValidateSubjects(ids []string, maxAllowed int) error {
	if len(ids) == 0 {
		return ErrNoSubjects
	}

	if maxAllowed <= 0 {
		return fmt.Errorf("%w: max allowed must be positive, got %d",
			ErrTooManySubjects, maxAllowed)
	}

	if len(ids) > maxAllowed {
		return fmt.Errorf("%w: requested %d subjects, maximum allowed %d",
			ErrTooManySubjects, len(ids), maxAllowed)
	}

	for i, id := range ids {
		if err := ValidateSubject(id); err != nil {
			return fmt.Errorf("invalid subject at index %d (%q): %w", i, id, err)
		}
	}

	return nil
}

// ValidateBitcoinAddress performs a light sanity check on a Bitcoin address:
// length bounds and alphabet only, covering both base58 and bech32 encodings.
// Full checksum verification belongs to the wallet layer; here a malformed
// address only means the payment lookup will find nothing.
func ValidateBitcoinAddress(addr string) error {
	if len(addr) < 26 || len(addr) > 90 {
		return fmt.Errorf("bitcoin address has invalid length: %d", len(addr))
	}
	for _, r := range addr {
		alphanumeric := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !alphanumeric {
			return fmt.Errorf("bitcoin address contains invalid character: %q", r)
		}
	}
	return nil
}
