package onetime

import (
	"context"
	"time"
)

// Purpose discriminates the two token kinds sharing the auth_tokens table.
type Purpose string

const (
	PurposeReset  Purpose = "reset"
	PurposeVerify Purpose = "verify"
)

// Token mirrors an auth_tokens row.
type Token struct {
	TokenID   int64
	UserID    int64
	Value     string
	Purpose   Purpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store is the persistence boundary for single-use tokens.
type Store interface {
	// Create inserts a token row. Multiple live tokens per user and
	// purpose are allowed; issuing a new one does not invalidate others.
	Create(ctx context.Context, userID int64, value string, purpose Purpose, createdAt, expiresAt time.Time) (Token, error)

	// Get finds a token by purpose and value alone (verification links,
	// where the value itself is high-entropy).
	Get(ctx context.Context, purpose Purpose, value string) (Token, error)

	// GetForUser finds a token scoped to one user (reset codes).
	GetForUser(ctx context.Context, purpose Purpose, userID int64, value string) (Token, error)

	// Consume deletes the row and reports whether this caller got it.
	// Exactly one of any number of concurrent consumers sees true.
	Consume(ctx context.Context, tokenID int64) (bool, error)

	// Delete removes a row unconditionally (lazy expiry cleanup).
	Delete(ctx context.Context, tokenID int64) error
}
