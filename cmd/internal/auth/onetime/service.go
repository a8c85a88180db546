package onetime

import (
	"context"
	"strings"
	"time"

	"readmemo/cmd/security/token"
)

// Service issues and redeems single-use tokens on top of a Store.
// Time is always passed in by the caller so tests can pin the clock.
type Service struct {
	cfg   Config
	store Store
}

// NewService constructs a Service.
func NewService(cfg Config, store Store) *Service {
	def := DefaultConfig()
	if cfg.ResetCodeTTL <= 0 {
		cfg.ResetCodeTTL = def.ResetCodeTTL
	}
	if cfg.VerifyTokenTTL <= 0 {
		cfg.VerifyTokenTTL = def.VerifyTokenTTL
	}
	return &Service{cfg: cfg, store: store}
}

// IssueResetCode mints a 4-digit reset code for the user. Outstanding
// codes stay valid; each is independently single-use.
func (s *Service) IssueResetCode(ctx context.Context, now time.Time, userID int64) (string, error) {
	code, err := token.NewShortCode()
	if err != nil {
		return "", err
	}
	if _, err := s.store.Create(ctx, userID, code, PurposeReset, now, now.Add(s.cfg.ResetCodeTTL)); err != nil {
		return "", err
	}
	return code, nil
}

// CheckResetCode verifies a code without consuming it (the pre-flight
// check a client runs before showing the new-password form). Expired
// codes are reaped on sight.
func (s *Service) CheckResetCode(ctx context.Context, now time.Time, userID int64, code string) error {
	_, err := s.lookupReset(ctx, now, userID, code)
	return err
}

// ConsumeResetCode redeems a code. Exactly one concurrent caller wins;
// the rest see ErrTokenNotFound.
func (s *Service) ConsumeResetCode(ctx context.Context, now time.Time, userID int64, code string) error {
	tok, err := s.lookupReset(ctx, now, userID, code)
	if err != nil {
		return err
	}
	ok, err := s.store.Consume(ctx, tok.TokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	return nil
}

func (s *Service) lookupReset(ctx context.Context, now time.Time, userID int64, code string) (Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Token{}, ErrTokenNotFound
	}
	tok, err := s.store.GetForUser(ctx, PurposeReset, userID, code)
	if err != nil {
		return Token{}, err
	}
	if !tok.ExpiresAt.After(now) {
		if err := s.store.Delete(ctx, tok.TokenID); err != nil {
			return Token{}, err
		}
		return Token{}, ErrTokenExpired
	}
	return tok, nil
}

// IssueVerifyToken mints an opaque email-verification token.
func (s *Service) IssueVerifyToken(ctx context.Context, now time.Time, userID int64) (string, error) {
	value := token.New(token.PurposeVerify)
	if _, err := s.store.Create(ctx, userID, value, PurposeVerify, now, now.Add(s.cfg.VerifyTokenTTL)); err != nil {
		return "", err
	}
	return value, nil
}

// ConsumeVerifyToken redeems a verification token and returns the user
// it belongs to. Tokens without the verify prefix never hit the store.
func (s *Service) ConsumeVerifyToken(ctx context.Context, now time.Time, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" || !token.Is(value, token.PurposeVerify) {
		return 0, ErrTokenNotFound
	}
	tok, err := s.store.Get(ctx, PurposeVerify, value)
	if err != nil {
		return 0, err
	}
	if !tok.ExpiresAt.After(now) {
		if err := s.store.Delete(ctx, tok.TokenID); err != nil {
			return 0, err
		}
		return 0, ErrTokenExpired
	}
	ok, err := s.store.Consume(ctx, tok.TokenID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrTokenNotFound
	}
	return tok.UserID, nil
}
