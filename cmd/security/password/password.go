package password

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt encoded-hash prefixes we accept. "$2y$" shows up in rows
// imported from PHP-era systems; bcrypt verifies all three the same way.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// IsHashed reports whether stored is a bcrypt-encoded credential.
// Anything else is treated as legacy plaintext.
func IsHashed(stored string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}
	return false
}

// Hash encodes a new password with bcrypt at the configured cost. Every
// write path goes through here; plaintext is never stored.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), c.Cost)
	if err != nil {
		return "", fmt.Errorf("password: hash: %w", err)
	}
	return string(b), nil
}

// Verify checks candidate against the stored credential.
//
// Returns (match, legacy, err):
//   - bcrypt-encoded stored value: constant-cost bcrypt comparison;
//     legacy is false.
//   - anything else: byte-for-byte constant-time comparison against the
//     stored plaintext; legacy is true on a match so the caller knows the
//     row must be rehashed.
//
// A mismatch is (false, _, nil); err is reserved for unusable input such
// as an empty stored value.
func (c Config) Verify(stored, candidate string) (match, legacy bool, err error) {
	if stored == "" {
		return false, false, ErrEmptyStored
	}

	if IsHashed(stored) {
		cmpErr := bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate))
		switch {
		case cmpErr == nil:
			return true, false, nil
		case cmpErr == bcrypt.ErrMismatchedHashAndPassword:
			return false, false, nil
		default:
			// Truncated or corrupt hash row. Fail closed.
			return false, false, fmt.Errorf("password: verify: %w", cmpErr)
		}
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1 {
		legacyVerifyTotal.Inc()
		return true, true, nil
	}
	return false, false, nil
}

// DummyVerify burns roughly one bcrypt comparison worth of CPU. Login
// handlers call it when the account does not exist, so response timing
// does not reveal which identifiers are registered.
func (c Config) DummyVerify(candidate string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(candidate))
}

// dummyHash is a fixed bcrypt hash of an unguessable throwaway value,
// used only to equalize timing. Cost matches DefaultConfig.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
