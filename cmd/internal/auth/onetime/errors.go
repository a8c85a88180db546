package onetime

import "errors"

var (
	// ErrTokenNotFound is returned when no live token matches, including
	// the case where a concurrent consumer won the race for it.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when the matched token was past its
	// expiry; the row has been deleted by the time callers see this.
	ErrTokenExpired = errors.New("token expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
