package session

import (
	"context"
	"time"
)

// Row mirrors a user_sessions row.
//
// Both tokens are stored as given; they are opaque random values with no
// derivable structure, so hashing them would only complicate lookups
// without protecting anything a database-level attacker could not already
// mint for themselves via the users table.
type Row struct {
	SessionID    int64
	UserID       int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Store abstracts persistence for session state.
//
// Implementations must provide the two transactional guarantees the
// service is built on:
//   - CreateForLogin serializes concurrent logins per user, so exactly
//     one session row survives no matter how many race.
//   - Rotate consumes the old refresh token with a compare-and-swap, so
//     a concurrent refresh with the same token fails instead of minting
//     a second valid pair.
type Store interface {
	// CreateForLogin atomically deletes every session the user holds,
	// inserts the replacement, and stamps users.last_login_at.
	CreateForLogin(ctx context.Context, now time.Time, userID int64, accessToken, refreshToken string, expiresAt time.Time) (Row, error)

	// GetByAccessToken loads a session row by access token.
	// Returns ErrSessionNotFound when no row matches. Expiry is the
	// caller's concern; the row comes back as stored.
	GetByAccessToken(ctx context.Context, accessToken string) (Row, error)

	// Rotate swaps both tokens in place on the row holding oldRefresh,
	// re-arming expiry. Returns ErrSessionNotFound when the token matches
	// nothing (or was consumed concurrently) and ErrSessionExpired when
	// the matched row was expired (the row is deleted in that case).
	Rotate(ctx context.Context, now time.Time, oldRefresh, newAccess, newRefresh string, newExpiresAt time.Time) (Row, error)

	// DeleteByID removes a single session row (lazy expiry cleanup).
	// Deleting an absent row is not an error.
	DeleteByID(ctx context.Context, sessionID int64) error

	// DeleteByAccessToken removes the session owning the token and
	// reports whether a row existed. Used by logout, which is idempotent.
	DeleteByAccessToken(ctx context.Context, accessToken string) (bool, error)

	// DeleteAllForUser removes every session the user holds and returns
	// the count (password reset/change, refresh-abuse response).
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}
