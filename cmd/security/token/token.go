package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Purpose identifies what a bearer token is for. The purpose is encoded
// as a prefix on the token string itself.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
	PurposeVerify  Purpose = "verify"
)

// prefix returns the wire prefix for p, including the separator.
func (p Purpose) prefix() string { return string(p) + "_" }

// New returns a fresh opaque token for the given purpose:
// "<purpose>_<uuidv4>". The UUID body comes from crypto/rand via the
// uuid package, so tokens are unguessable and collision-free for any
// realistic table size.
func New(p Purpose) string {
	return p.prefix() + uuid.NewString()
}

// NewPair returns a matched access/refresh token pair for one session.
func NewPair() (access, refresh string) {
	return New(PurposeAccess), New(PurposeRefresh)
}

// PurposeOf reports the purpose encoded in tok. Tokens minted elsewhere
// (or garbage) yield ErrUnknownPurpose.
func PurposeOf(tok string) (Purpose, error) {
	for _, p := range []Purpose{PurposeAccess, PurposeRefresh, PurposeVerify} {
		if strings.HasPrefix(tok, p.prefix()) {
			return p, nil
		}
	}
	return "", ErrUnknownPurpose
}

// Is reports whether tok carries the purpose prefix for p.
func Is(tok string, p Purpose) bool {
	return strings.HasPrefix(tok, p.prefix())
}

// shortCodeMin/Max bound the reset-code space. Four digits, never a
// leading zero, so the code survives clients that parse it as a number.
const (
	shortCodeMin = 1000
	shortCodeMax = 9999
)

// NewShortCode returns a 4-digit numeric code in [1000, 9999] drawn from
// crypto/rand. It is the emailed password-reset credential; the small
// space is compensated by a 10-minute TTL and login throttling upstream.
func NewShortCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(shortCodeMax-shortCodeMin+1))
	if err != nil {
		return "", fmt.Errorf("token: short code entropy: %w", err)
	}
	return fmt.Sprintf("%04d", shortCodeMin+n.Int64()), nil
}
