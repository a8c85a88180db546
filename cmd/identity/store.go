package identity

import (
	"context"
	"time"
)

// User is readmemo's canonical account record.
//
// PasswordHash is the stored credential in whatever encoding the row
// carries (bcrypt, or legacy plaintext on not-yet-migrated rows). Only
// the password verifier may interpret it.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string

	Nickname  *string
	AvatarURL *string
	Role      string

	IsVerified bool

	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// CreateUserInput describes a registration request. PasswordHash must
// already be encoded by the password package; this store never sees
// plaintext.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Nickname     *string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// GetUserByLogin resolves the login identifier, which may be either
	// a username or an email address. Returns ErrNotFound when no row
	// matches; callers on authentication paths must collapse that into
	// the same failure as a wrong password.
	GetUserByLogin(ctx context.Context, identifier string) (User, error)

	// UpdatePasswordHash replaces the stored credential unconditionally
	// (reset and change-password flows).
	UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error

	// RehashPassword upgrades a legacy credential in place, guarded by
	// the previous stored value so a concurrent password change is never
	// clobbered. Reports whether the row was updated.
	RehashPassword(ctx context.Context, userID int64, oldStored, newHash string) (bool, error)

	// MarkEmailVerified flips is_verified. Idempotent; ErrNotFound when
	// the user does not exist.
	MarkEmailVerified(ctx context.Context, userID int64) error
}
