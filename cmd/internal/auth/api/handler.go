// Package authapi exposes the credential and session lifecycle over HTTP.
//
// All endpoints live under /api/v1/auth. Request and response bodies are
// JSON; errors use a single {error: {code, message}} envelope with fixed
// messages, never internal error text.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"readmemo/cmd/identity"
	"readmemo/cmd/internal/auth/onetime"
	"readmemo/cmd/internal/auth/session"
	"readmemo/cmd/internal/email"
	"readmemo/cmd/security/password"
)

// Handler wires the auth HTTP endpoints to the identity, session and
// one-time token services.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	pool   *pgxpool.Pool
	schema string

	users        identity.Store
	sessionStore session.Store
	tokenStore   onetime.Store
	sessions     *session.Service
	tokens       *onetime.Service
	passwords    password.Config

	emails email.Sender
	now    func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithEmailSender overrides the default no-op email sender.
func WithEmailSender(sender email.Sender) HandlerOption {
	return func(h *Handler) {
		if sender != nil {
			h.emails = sender
		}
	}
}

// WithClock overrides the handler's clock. Tests pin it.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithSchema sets the DB schema used by the handler's stores and the
// audit log (default: "public").
func WithSchema(schema string) HandlerOption {
	return func(h *Handler) {
		if s := strings.TrimSpace(schema); s != "" {
			h.schema = s
		}
	}
}

// WithUserStore injects a user store, bypassing the Postgres default.
func WithUserStore(st identity.Store) HandlerOption {
	return func(h *Handler) {
		if st != nil {
			h.users = st
		}
	}
}

// WithSessionStore injects a session store, bypassing the Postgres default.
func WithSessionStore(st session.Store) HandlerOption {
	return func(h *Handler) {
		if st != nil {
			h.sessionStore = st
		}
	}
}

// WithTokenStore injects a one-time token store, bypassing the Postgres
// default.
func WithTokenStore(st onetime.Store) HandlerOption {
	return func(h *Handler) {
		if st != nil {
			h.tokenStore = st
		}
	}
}

// NewHandler constructs an auth Handler. The pool may be nil only when
// every store is injected through options; audit logging and login
// throttling are disabled without a pool.
func NewHandler(log *slog.Logger, pool *pgxpool.Pool, cfg Config, sessCfg session.Config, pwCfg password.Config, otCfg onetime.Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		pool:      pool,
		schema:    "public",
		passwords: pwCfg,
		emails:    email.NopSender{},
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	if h.users == nil {
		if pool == nil {
			return nil, errors.New("authapi: nil db pool")
		}
		st, err := identity.NewPostgresStore(pool, identity.WithSchema(h.schema))
		if err != nil {
			return nil, err
		}
		h.users = st
	}
	if h.sessionStore == nil {
		if pool == nil {
			return nil, errors.New("authapi: nil db pool")
		}
		st, err := session.NewPostgresStore(pool, session.WithSchema(h.schema))
		if err != nil {
			return nil, err
		}
		h.sessionStore = st
	}
	if h.tokenStore == nil {
		if pool == nil {
			return nil, errors.New("authapi: nil db pool")
		}
		st, err := onetime.NewPostgresStore(pool, onetime.WithSchema(h.schema))
		if err != nil {
			return nil, err
		}
		h.tokenStore = st
	}

	h.sessions = session.NewService(sessCfg, h.sessionStore)
	h.tokens = onetime.NewService(otCfg, h.tokenStore)

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/v1/auth/refresh-token", h.handleRefresh)
	mux.HandleFunc("/api/v1/auth/verify-token", h.handleVerifyToken)
	mux.HandleFunc("/api/v1/auth/verify-token-header", h.handleVerifyTokenHeader)
	mux.HandleFunc("/api/v1/auth/me", h.handleMe)
	mux.HandleFunc("/api/v1/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("/api/v1/auth/verify-code", h.handleVerifyCode)
	mux.HandleFunc("/api/v1/auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("/api/v1/auth/password", h.handleUpdatePassword)
	mux.HandleFunc("/api/v1/auth/send-verification-email", h.handleSendVerificationEmail)
	mux.HandleFunc("/api/v1/auth/verify-email", h.handleVerifyEmail)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	emailAddr := strings.TrimSpace(req.Email)
	switch {
	case emailAddr == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	case req.Password == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	case username == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "username is required")
		return
	case !emailLooksValid(emailAddr):
		writeError(w, http.StatusBadRequest, "invalid_email", "email address is not valid")
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, "weak_password", "password does not meet the policy")
			return
		}
		h.log.Error("auth.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Nickname defaults to the username.
	nickname := trimPtr(req.Nickname)
	if nickname == nil {
		nickname = &username
	}

	ctx := r.Context()
	now := h.now()

	user, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Username:     username,
		Email:        emailAddr,
		PasswordHash: hash,
		Nickname:     nickname,
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "username or email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	// The new account is logged in immediately.
	issued, err := h.sessions.Login(ctx, now, user.ID)
	if err != nil {
		h.log.Error("auth.register.session.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditRegister(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeJSON(w, http.StatusCreated, registerResponse{
		User:    toUserResponse(user),
		Session: toTokenResponse(issued),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email or username is required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	normalized := identity.NormalizeEmail(identifier)

	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, normalized, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, normalized, now); err != nil {
		h.log.Error("auth.login.throttle_identifier.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, normalized, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := h.users.GetUserByLogin(ctx, identifier)
	if err != nil {
		if identity.IsNotFound(err) {
			// Burn comparable time so a missing account is
			// indistinguishable from a wrong password.
			h.passwords.DummyVerify(req.Password)
			h.auditLoginFailed(ctx, nil, ip, ua, normalized, "not_found")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email/username or password")
			return
		}
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	match, legacy, err := h.passwords.Verify(user.PasswordHash, req.Password)
	if err != nil {
		h.log.Error("auth.login.verify.fail", "err", err, "user_id", user.ID)
		h.auditLoginFailed(ctx, &user.ID, ip, ua, normalized, "verify_error")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email/username or password")
		return
	}
	if !match {
		h.auditLoginFailed(ctx, &user.ID, ip, ua, normalized, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email/username or password")
		return
	}
	if legacy {
		h.upgradeLegacyCredential(ctx, user, req.Password)
	}

	issued, err := h.sessions.Login(ctx, now, user.ID)
	if err != nil {
		h.log.Error("auth.login.session.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, user.ID, issued.SessionID, ip, ua, normalized)

	writeJSON(w, http.StatusOK, toTokenResponse(issued))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing bearer token")
		return
	}

	ctx := r.Context()
	found, err := h.sessions.Logout(ctx, tok)
	if err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if found {
		h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	}

	// Idempotent: unknown tokens log out successfully too.
	writeMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	issued, err := h.sessions.Refresh(ctx, now, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken),
			errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired):
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid or expired refresh token")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRefresh(ctx, issued.SessionID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeJSON(w, http.StatusOK, toTokenResponse(issued))
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyTokenRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	// The verdict is always 200; validity rides in the body.
	writeJSON(w, http.StatusOK, h.tokenVerdict(r, req.Token))
}

func (h *Handler) handleVerifyTokenHeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.tokenVerdict(r, bearerToken(r)))
}

func (h *Handler) tokenVerdict(r *http.Request, tok string) verifyTokenResponse {
	ctx := r.Context()

	row, err := h.sessions.VerifyAccess(ctx, h.now(), tok)
	if err != nil {
		if !isSessionAuthFailure(err) {
			h.log.Error("auth.verify_token.fail", "err", err)
		}
		return verifyTokenResponse{Valid: false}
	}

	user, err := h.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.verify_token.user.fail", "err", err, "user_id", row.UserID)
		}
		return verifyTokenResponse{Valid: false}
	}

	return verifyTokenResponse{
		Valid:    true,
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	row, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUserByID(r.Context(), row.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		h.log.Error("auth.me.fail", "err", err, "user_id", row.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	emailAddr := strings.TrimSpace(req.Email)
	if emailAddr == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	if !emailLooksValid(emailAddr) {
		writeError(w, http.StatusBadRequest, "invalid_email", "email address is not valid")
		return
	}

	const genericMsg = "if that email is registered, a reset code has been sent"

	ctx := r.Context()
	now := h.now()

	user, err := h.users.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if identity.IsNotFound(err) {
			// Unknown addresses get the same answer as known ones.
			writeMessage(w, http.StatusOK, genericMsg)
			return
		}
		h.log.Error("auth.forgot_password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	code, err := h.tokens.IssueResetCode(ctx, now, user.ID)
	if err != nil {
		h.log.Error("auth.forgot_password.issue.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.emails.SendResetCode(ctx, user.Email, code); err != nil {
		h.log.Error("auth.forgot_password.email.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "email_send_failed", "could not send the reset email")
		return
	}

	h.auditForgotPassword(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeMessage(w, http.StatusOK, genericMsg)
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyCodeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	emailAddr := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.Code)
	if emailAddr == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	ctx := r.Context()

	// An unknown email and a wrong code are the same failure.
	user, err := h.users.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired code")
			return
		}
		h.log.Error("auth.verify_code.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// The check does not consume the code; reset-password does.
	if err := h.tokens.CheckResetCode(ctx, h.now(), user.ID, code); err != nil {
		if isTokenAuthFailure(err) {
			writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired code")
			return
		}
		h.log.Error("auth.verify_code.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeMessage(w, http.StatusOK, "code is valid")
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	emailAddr := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.Token)
	switch {
	case code == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "reset code is required")
		return
	case emailAddr == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	case req.Password == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	case req.PasswordConfirmation == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "password confirmation is required")
		return
	case req.Password != req.PasswordConfirmation:
		writeError(w, http.StatusBadRequest, "password_mismatch", "passwords do not match")
		return
	}
	if err := h.passwords.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", "password does not meet the policy")
		return
	}

	ctx := r.Context()
	now := h.now()

	user, err := h.users.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired code")
			return
		}
		h.log.Error("auth.reset_password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Consuming the code is the commit point; a mismatched confirmation
	// or weak password above leaves it untouched.
	if err := h.tokens.ConsumeResetCode(ctx, now, user.ID, code); err != nil {
		if isTokenAuthFailure(err) {
			writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired code")
			return
		}
		h.log.Error("auth.reset_password.consume.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.reset_password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		h.log.Error("auth.reset_password.update.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Every outstanding session dies with the old password.
	if _, err := h.sessions.RevokeAll(ctx, user.ID); err != nil {
		h.log.Error("auth.reset_password.revoke.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditPasswordReset(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeMessage(w, http.StatusOK, "password has been reset, please log in again")
}

func (h *Handler) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req updatePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	switch {
	case req.CurrentPassword == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "current password is required")
		return
	case req.NewPassword == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "new password is required")
		return
	case req.NewPasswordConfirmation == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "password confirmation is required")
		return
	case req.NewPassword != req.NewPasswordConfirmation:
		writeError(w, http.StatusBadRequest, "password_mismatch", "passwords do not match")
		return
	case req.NewPassword == req.CurrentPassword:
		writeError(w, http.StatusBadRequest, "password_unchanged", "new password must differ from the current one")
		return
	}
	if err := h.passwords.Validate(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", "password does not meet the policy")
		return
	}

	row, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	user, err := h.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		h.log.Error("auth.update_password.lookup.fail", "err", err, "user_id", row.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	match, _, err := h.passwords.Verify(user.PasswordHash, req.CurrentPassword)
	if err != nil || !match {
		if err != nil {
			h.log.Error("auth.update_password.verify.fail", "err", err, "user_id", user.ID)
		}
		writeError(w, http.StatusBadRequest, "invalid_current_password", "current password is incorrect")
		return
	}

	hash, err := h.passwords.Hash(req.NewPassword)
	if err != nil {
		h.log.Error("auth.update_password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		h.log.Error("auth.update_password.update.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if _, err := h.sessions.RevokeAll(ctx, user.ID); err != nil {
		h.log.Error("auth.update_password.revoke.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditPasswordUpdated(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeMessage(w, http.StatusOK, "password updated, please log in again")
}

func (h *Handler) handleSendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	row, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	user, err := h.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		h.log.Error("auth.send_verification.lookup.fail", "err", err, "user_id", row.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if user.IsVerified {
		writeError(w, http.StatusBadRequest, "already_verified", "email is already verified")
		return
	}

	tok, err := h.tokens.IssueVerifyToken(ctx, h.now(), user.ID)
	if err != nil {
		h.log.Error("auth.send_verification.issue.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.emails.SendVerificationLink(ctx, user.Email, tok); err != nil {
		h.log.Error("auth.send_verification.email.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "email_send_failed", "could not send the verification email")
		return
	}

	h.auditVerificationSent(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeMessage(w, http.StatusOK, "verification email sent")
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyEmailRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	emailAddr := strings.TrimSpace(req.Email)
	tok := strings.TrimSpace(req.Token)
	switch {
	case tok == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "verification token is required")
		return
	case emailAddr == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	case !emailLooksValid(emailAddr):
		writeError(w, http.StatusBadRequest, "invalid_email", "email address is not valid")
		return
	}

	ctx := r.Context()

	user, err := h.users.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired verification token")
			return
		}
		h.log.Error("auth.verify_email.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if user.IsVerified {
		writeError(w, http.StatusBadRequest, "already_verified", "email is already verified")
		return
	}

	userID, err := h.tokens.ConsumeVerifyToken(ctx, h.now(), tok)
	if err != nil {
		if isTokenAuthFailure(err) {
			writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired verification token")
			return
		}
		h.log.Error("auth.verify_email.consume.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if userID != user.ID {
		writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired verification token")
		return
	}

	if err := h.users.MarkEmailVerified(ctx, user.ID); err != nil {
		h.log.Error("auth.verify_email.mark.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditEmailVerified(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	writeMessage(w, http.StatusOK, "email verified")
}

// ---- helpers ----

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (session.Row, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.Row{}, false
	}

	row, err := h.sessions.VerifyAccess(r.Context(), h.now(), tok)
	if err != nil {
		if isSessionAuthFailure(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return session.Row{}, false
		}
		h.log.Error("auth.session.verify.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return session.Row{}, false
	}
	return row, true
}

// upgradeLegacyCredential rehashes a plaintext credential after a
// successful login. Best effort: a concurrent password change wins the
// compare-and-swap and the upgrade is skipped.
func (h *Handler) upgradeLegacyCredential(ctx context.Context, user identity.User, plaintext string) {
	h.log.Warn("auth.login.legacy_credential", "user_id", user.ID)

	hash, err := h.passwords.Hash(plaintext)
	if err != nil {
		h.log.Error("auth.login.rehash.hash.fail", "err", err, "user_id", user.ID)
		return
	}
	upgraded, err := h.users.RehashPassword(ctx, user.ID, user.PasswordHash, hash)
	if err != nil {
		h.log.Error("auth.login.rehash.fail", "err", err, "user_id", user.ID)
		return
	}
	if upgraded {
		h.log.Info("auth.login.rehash.upgraded", "user_id", user.ID)
	}
}

func isSessionAuthFailure(err error) bool {
	return errors.Is(err, session.ErrInvalidToken) ||
		errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, session.ErrSessionExpired)
}

func isTokenAuthFailure(err error) bool {
	return errors.Is(err, onetime.ErrTokenNotFound) ||
		errors.Is(err, onetime.ErrTokenExpired)
}
