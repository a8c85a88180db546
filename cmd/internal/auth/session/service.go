package session

import (
	"context"
	"strings"
	"time"

	"readmemo/cmd/security/token"
)

// Service implements the high-level session operations for readmemo.
//
// It issues sessions (access + refresh), validates access tokens with
// lazy expiry cleanup, rotates refresh tokens, and revokes sessions per
// token or per user. Time is always passed in by the caller so tests can
// pin the clock.
type Service struct {
	cfg   Config
	store Store
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// ExpiresIn is the lifetime in whole seconds as reported to clients.
	ExpiresIn int64
}

// NewService constructs a Service with the provided configuration and store.
func NewService(cfg Config, store Store) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	return &Service{cfg: cfg, store: store}
}

func (s *Service) issued(row Row) Issued {
	return Issued{
		SessionID:    row.SessionID,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
		ExpiresIn:    int64(s.cfg.SessionTTL / time.Second),
	}
}

// Login mints a fresh token pair and installs it as the user's single
// active session. Any prior sessions die with it, atomically.
func (s *Service) Login(ctx context.Context, now time.Time, userID int64) (Issued, error) {
	access, refresh := token.NewPair()
	row, err := s.store.CreateForLogin(ctx, now, userID, access, refresh, now.Add(s.cfg.SessionTTL))
	if err != nil {
		return Issued{}, err
	}
	return s.issued(row), nil
}

// VerifyAccess resolves an access token to its session row.
//
// An expired row is deleted before returning ErrSessionExpired, so the
// check doubles as cleanup. Tokens without the access prefix are
// rejected before touching the database.
func (s *Service) VerifyAccess(ctx context.Context, now time.Time, accessToken string) (Row, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" || !token.Is(accessToken, token.PurposeAccess) {
		return Row{}, ErrInvalidToken
	}

	row, err := s.store.GetByAccessToken(ctx, accessToken)
	if err != nil {
		return Row{}, err
	}

	if !row.ExpiresAt.After(now) {
		if err := s.store.DeleteByID(ctx, row.SessionID); err != nil {
			return Row{}, err
		}
		return Row{}, ErrSessionExpired
	}

	return row, nil
}

// Logout removes the session owning the access token. It is idempotent:
// an unknown or already-removed token reports found=false and no error.
func (s *Service) Logout(ctx context.Context, accessToken string) (found bool, err error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return false, nil
	}
	return s.store.DeleteByAccessToken(ctx, accessToken)
}

// Refresh rotates the token pair in place on the session that owns
// refreshToken, re-arming expiry. A consumed, unknown, or wrongly
// prefixed token fails with ErrSessionNotFound / ErrInvalidToken; an
// expired session is deleted and fails with ErrSessionExpired.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshToken string) (Issued, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || !token.Is(refreshToken, token.PurposeRefresh) {
		return Issued{}, ErrInvalidToken
	}

	newAccess, newRefresh := token.NewPair()
	row, err := s.store.Rotate(ctx, now, refreshToken, newAccess, newRefresh, now.Add(s.cfg.SessionTTL))
	if err != nil {
		return Issued{}, err
	}
	return s.issued(row), nil
}

// RevokeAll removes every session the user holds. Used when a password
// changes; every outstanding token must die at once.
func (s *Service) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	return s.store.DeleteAllForUser(ctx, userID)
}
