// Package onetime manages single-use credentials stored in auth_tokens:
// 4-digit password-reset codes and opaque email-verification tokens.
//
// Both kinds share a shape: issued for one user, expire on a short TTL,
// and are deleted the moment they are consumed or first seen expired.
// Reset codes are additionally scoped to the user on lookup, because
// a 4-digit space is only safe when an attacker must also know the
// account it belongs to.
package onetime
