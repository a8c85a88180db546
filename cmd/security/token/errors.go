package token

import "errors"

// Public, stable errors for callers.
var (
	ErrUnknownPurpose = errors.New("token purpose unknown")
)
