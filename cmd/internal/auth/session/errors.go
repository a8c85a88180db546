package session

import "errors"

var (
	// ErrInvalidToken is returned when a token has the wrong shape or the
	// wrong purpose prefix for the operation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a token does not match any
	// session row, including the case where a concurrent refresh already
	// consumed the presented refresh token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the matched session is past its
	// expiry. The row has already been deleted by the time callers see this.
	ErrSessionExpired = errors.New("session expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
