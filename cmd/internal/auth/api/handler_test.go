package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"readmemo/cmd/identity"
	"readmemo/cmd/internal/auth/onetime"
	"readmemo/cmd/internal/auth/session"
	"readmemo/cmd/security/password"
)

// ---- fakes ----

type fakeUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]identity.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{nextID: 1, users: make(map[int64]identity.User)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, in identity.CreateUserInput) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	username := identity.NormalizeUsername(in.Username)
	emailAddr := identity.NormalizeEmail(in.Email)
	for _, u := range f.users {
		if identity.NormalizeUsername(u.Username) == username {
			return identity.User{}, identity.ConflictError{Op: "fake.CreateUser", Field: "username"}
		}
		if identity.NormalizeEmail(u.Email) == emailAddr {
			return identity.User{}, identity.ConflictError{Op: "fake.CreateUser", Field: "email"}
		}
	}
	u := identity.User{
		ID:           f.nextID,
		Username:     username,
		Email:        emailAddr,
		PasswordHash: in.PasswordHash,
		Nickname:     in.Nickname,
		Role:         "user",
		CreatedAt:    in.Now,
	}
	f.nextID++
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id int64) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.User{}, identity.NotFoundError{Op: "fake.GetUserByID", Resource: "user"}
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, emailAddr string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	emailAddr = identity.NormalizeEmail(emailAddr)
	for _, u := range f.users {
		if identity.NormalizeEmail(u.Email) == emailAddr {
			return u, nil
		}
	}
	return identity.User{}, identity.NotFoundError{Op: "fake.GetUserByEmail", Resource: "user"}
}

func (f *fakeUserStore) GetUserByLogin(_ context.Context, identifier string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identifier = identity.NormalizeEmail(identifier)
	for _, u := range f.users {
		if identity.NormalizeUsername(u.Username) == identifier || identity.NormalizeEmail(u.Email) == identifier {
			return u, nil
		}
	}
	return identity.User{}, identity.NotFoundError{Op: "fake.GetUserByLogin", Resource: "user"}
}

func (f *fakeUserStore) UpdatePasswordHash(_ context.Context, userID int64, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return identity.NotFoundError{Op: "fake.UpdatePasswordHash", Resource: "user"}
	}
	u.PasswordHash = newHash
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) RehashPassword(_ context.Context, userID int64, oldStored, newHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.PasswordHash != oldStored {
		return false, nil
	}
	u.PasswordHash = newHash
	f.users[userID] = u
	return true, nil
}

func (f *fakeUserStore) MarkEmailVerified(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return identity.NotFoundError{Op: "fake.MarkEmailVerified", Resource: "user"}
	}
	u.IsVerified = true
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) storedHash(t *testing.T, userID int64) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		t.Fatalf("user %d not found", userID)
	}
	return u.PasswordHash
}

func (f *fakeUserStore) setHash(userID int64, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.PasswordHash = hash
	f.users[userID] = u
}

type fakeSessionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]session.Row
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{nextID: 1, rows: make(map[int64]session.Row)}
}

func (f *fakeSessionStore) CreateForLogin(_ context.Context, now time.Time, userID int64, access, refresh string, expiresAt time.Time) (session.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rows {
		if r.UserID == userID {
			delete(f.rows, id)
		}
	}
	row := session.Row{
		SessionID:    f.nextID,
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	f.nextID++
	f.rows[row.SessionID] = row
	return row, nil
}

func (f *fakeSessionStore) GetByAccessToken(_ context.Context, access string) (session.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.AccessToken == access {
			return r, nil
		}
	}
	return session.Row{}, session.ErrSessionNotFound
}

func (f *fakeSessionStore) Rotate(_ context.Context, now time.Time, oldRefresh, newAccess, newRefresh string, newExpiresAt time.Time) (session.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rows {
		if r.RefreshToken != oldRefresh {
			continue
		}
		if !r.ExpiresAt.After(now) {
			delete(f.rows, id)
			return session.Row{}, session.ErrSessionExpired
		}
		r.AccessToken = newAccess
		r.RefreshToken = newRefresh
		r.ExpiresAt = newExpiresAt
		f.rows[id] = r
		return r, nil
	}
	return session.Row{}, session.ErrSessionNotFound
}

func (f *fakeSessionStore) DeleteByID(_ context.Context, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, sessionID)
	return nil
}

func (f *fakeSessionStore) DeleteByAccessToken(_ context.Context, access string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rows {
		if r.AccessToken == access {
			delete(f.rows, id)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSessionStore) DeleteAllForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.rows {
		if r.UserID == userID {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) countForUser(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

type fakeTokenStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]onetime.Token
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{nextID: 1, rows: make(map[int64]onetime.Token)}
}

func (f *fakeTokenStore) Create(_ context.Context, userID int64, value string, purpose onetime.Purpose, createdAt, expiresAt time.Time) (onetime.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := onetime.Token{
		TokenID:   f.nextID,
		UserID:    userID,
		Value:     value,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
	f.nextID++
	f.rows[tok.TokenID] = tok
	return tok, nil
}

func (f *fakeTokenStore) Get(_ context.Context, purpose onetime.Purpose, value string) (onetime.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.rows {
		if tok.Purpose == purpose && tok.Value == value {
			return tok, nil
		}
	}
	return onetime.Token{}, onetime.ErrTokenNotFound
}

func (f *fakeTokenStore) GetForUser(_ context.Context, purpose onetime.Purpose, userID int64, value string) (onetime.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.rows {
		if tok.Purpose == purpose && tok.UserID == userID && tok.Value == value {
			return tok, nil
		}
	}
	return onetime.Token{}, onetime.ErrTokenNotFound
}

func (f *fakeTokenStore) Consume(_ context.Context, tokenID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[tokenID]; !ok {
		return false, nil
	}
	delete(f.rows, tokenID)
	return true, nil
}

func (f *fakeTokenStore) Delete(_ context.Context, tokenID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, tokenID)
	return nil
}

type sentMail struct {
	To    string
	Value string
}

type emailRecorder struct {
	mu          sync.Mutex
	fail        bool
	resetCodes  []sentMail
	verifyLinks []sentMail
}

var errEmailDown = errors.New("smtp is down")

func (e *emailRecorder) SendResetCode(_ context.Context, to, code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errEmailDown
	}
	e.resetCodes = append(e.resetCodes, sentMail{To: to, Value: code})
	return nil
}

func (e *emailRecorder) SendVerificationLink(_ context.Context, to, tok string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errEmailDown
	}
	e.verifyLinks = append(e.verifyLinks, sentMail{To: to, Value: tok})
	return nil
}

func (e *emailRecorder) lastResetCode(t *testing.T) sentMail {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.resetCodes) == 0 {
		t.Fatal("no reset code was sent")
	}
	return e.resetCodes[len(e.resetCodes)-1]
}

func (e *emailRecorder) lastVerifyLink(t *testing.T) sentMail {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.verifyLinks) == 0 {
		t.Fatal("no verification link was sent")
	}
	return e.verifyLinks[len(e.verifyLinks)-1]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ---- harness ----

type testEnv struct {
	mux      *http.ServeMux
	users    *fakeUserStore
	sessions *fakeSessionStore
	tokens   *fakeTokenStore
	emails   *emailRecorder
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		mux:      http.NewServeMux(),
		users:    newFakeUserStore(),
		sessions: newFakeSessionStore(),
		tokens:   newFakeTokenStore(),
		emails:   &emailRecorder{},
		clock:    &testClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
	}

	pwCfg := password.DefaultConfig()
	pwCfg.Cost = bcrypt.MinCost

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, nil, Config{MaxBodyBytes: 1 << 20}, session.DefaultConfig(), pwCfg, onetime.DefaultConfig(),
		WithUserStore(env.users),
		WithSessionStore(env.sessions),
		WithTokenStore(env.tokens),
		WithEmailSender(env.emails),
		WithClock(env.clock.Now),
	)
	require.NoError(t, err)
	h.Register(env.mux)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "198.51.100.7:40000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (env *testEnv) register(t *testing.T, username, emailAddr, pw string) (userID int64, access, refresh string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", registerRequest{
		Username: username, Email: emailAddr, Password: pw,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "register: %s", rec.Body.String())

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.User.UserID, resp.Session.AccessToken, resp.Session.RefreshToken
}

// ---- tests ----

func TestRegister(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", registerRequest{
		Username: "alice", Email: "Alice@Example.com", Password: "hunter22",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.User.Username)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Equal(t, "user", resp.User.Role)
	assert.False(t, resp.User.IsVerified)
	require.NotNil(t, resp.User.Nickname)
	assert.Equal(t, "alice", *resp.User.Nickname, "nickname defaults to username")
	assert.True(t, strings.HasPrefix(resp.Session.AccessToken, "access_"))
	assert.True(t, strings.HasPrefix(resp.Session.RefreshToken, "refresh_"))
	assert.Equal(t, int64(3600), resp.Session.ExpiresIn)

	// Stored credential is a bcrypt hash, never the plaintext.
	assert.True(t, password.IsHashed(env.users.storedHash(t, resp.User.UserID)))
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	cases := []struct {
		name string
		req  registerRequest
		code string
	}{
		{"missing email", registerRequest{Username: "a", Password: "secret1"}, "invalid_request"},
		{"missing password", registerRequest{Username: "a", Email: "a@b.c"}, "invalid_request"},
		{"missing username", registerRequest{Email: "a@b.c", Password: "secret1"}, "invalid_request"},
		{"bad email", registerRequest{Username: "a", Email: "nope", Password: "secret1"}, "invalid_email"},
		{"short password", registerRequest{Username: "a", Email: "a@b.c", Password: "12345"}, "weak_password"},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/register", tc.req, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		body := decodeBody(t, rec)
		errObj, _ := body["error"].(map[string]any)
		assert.Equal(t, tc.code, errObj["code"], tc.name)
	}
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "hunter22")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", registerRequest{
		Username: "someone", Email: "ALICE@example.com", Password: "hunter22",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginByEmailAndUsername(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	userID, _, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	for _, identifier := range []string{"alice@example.com", "alice"} {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
			Email: identifier, Password: "hunter22",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, identifier)

		var resp tokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, strings.HasPrefix(resp.AccessToken, "access_"))
		assert.Equal(t, int64(3600), resp.ExpiresIn)
	}

	// Single-active-session: repeated logins never accumulate rows.
	assert.Equal(t, 1, env.sessions.countForUser(userID))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "hunter22")

	unknown := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Email: "ghost@example.com", Password: "hunter22",
	}, nil)
	wrongPw := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Email: "alice@example.com", Password: "wrong-password",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, http.StatusUnauthorized, wrongPw.Code)
	assert.Equal(t, unknown.Body.String(), wrongPw.Body.String(),
		"an unknown account must answer exactly like a wrong password")
}

func TestLoginUpgradesLegacyCredential(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	userID, _, _ := env.register(t, "old-timer", "old@example.com", "plainpass")

	// Simulate a not-yet-migrated row storing the raw password.
	env.users.setHash(userID, "plainpass")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Email: "old@example.com", Password: "plainpass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := env.users.storedHash(t, userID)
	assert.True(t, password.IsHashed(stored), "legacy credential must be rehashed after login")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("plainpass")))
}

func TestLogout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, access, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	missing := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code, "missing header is a request error")

	first := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(access))
	assert.Equal(t, http.StatusOK, first.Code)

	// Idempotent: the second logout with the same token also succeeds.
	second := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(access))
	assert.Equal(t, http.StatusOK, second.Code)

	me := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(access))
	assert.Equal(t, http.StatusUnauthorized, me.Code, "token must be dead after logout")
}

func TestRefreshRotatesInPlace(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, oldAccess, oldRefresh := env.register(t, "alice", "alice@example.com", "hunter22")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh-token", refreshRequest{RefreshToken: oldRefresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, oldRefresh, resp.RefreshToken)

	// The consumed refresh token and the old access token are both dead.
	replay := env.do(t, http.MethodPost, "/api/v1/auth/refresh-token", refreshRequest{RefreshToken: oldRefresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	me := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(oldAccess))
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	// The new pair works.
	me = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(resp.AccessToken))
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestRefreshExpiredSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, _, refresh := env.register(t, "alice", "alice@example.com", "hunter22")

	env.clock.Advance(time.Hour)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh-token", refreshRequest{RefreshToken: refresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyTokenAlways200(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	userID, access, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	valid := env.do(t, http.MethodPost, "/api/v1/auth/verify-token", verifyTokenRequest{Token: access}, nil)
	require.Equal(t, http.StatusOK, valid.Code)
	var resp verifyTokenResponse
	require.NoError(t, json.Unmarshal(valid.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, userID, resp.UserID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "user", resp.Role)

	for _, tok := range []string{"", "garbage", "refresh_abc"} {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/verify-token", verifyTokenRequest{Token: tok}, nil)
		require.Equal(t, http.StatusOK, rec.Code, "verdict is always 200")
		var r verifyTokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
		assert.False(t, r.Valid, "token %q", tok)
	}

	// Header variant returns the same body.
	hdr := env.do(t, http.MethodGet, "/api/v1/auth/verify-token-header", nil, bearer(access))
	require.Equal(t, http.StatusOK, hdr.Code)
	assert.JSONEq(t, valid.Body.String(), hdr.Body.String())
}

func TestVerifyTokenExpiredSessionReaped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	userID, access, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	env.clock.Advance(time.Hour)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/verify-token", verifyTokenRequest{Token: access}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp verifyTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, 0, env.sessions.countForUser(userID), "expired session must be deleted on sight")
}

func TestForgotPasswordFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "hunter22")

	known := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, known.Code)

	// Unknown addresses get the identical generic answer.
	unknown := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "ghost@example.com"}, nil)
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())

	mail := env.emails.lastResetCode(t)
	assert.Equal(t, "alice@example.com", mail.To)
	assert.Len(t, mail.Value, 4, "reset codes are 4 digits")

	bad := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestForgotPasswordEmailFailureIs500(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "hunter22")
	env.emails.fail = true

	rec := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "alice@example.com"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "email_send_failed", errObj["code"])
}

func TestVerifyCodeDoesNotConsume(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "hunter22")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	code := env.emails.lastResetCode(t).Value

	for i := 0; i < 2; i++ {
		check := env.do(t, http.MethodPost, "/api/v1/auth/verify-code", verifyCodeRequest{Email: "alice@example.com", Code: code}, nil)
		assert.Equal(t, http.StatusOK, check.Code, "check %d", i)
	}

	// A wrong code and an unknown email fail identically.
	wrongCode := env.do(t, http.MethodPost, "/api/v1/auth/verify-code", verifyCodeRequest{Email: "alice@example.com", Code: "0000"}, nil)
	unknownEmail := env.do(t, http.MethodPost, "/api/v1/auth/verify-code", verifyCodeRequest{Email: "ghost@example.com", Code: code}, nil)
	assert.Equal(t, http.StatusBadRequest, wrongCode.Code)
	assert.Equal(t, http.StatusBadRequest, unknownEmail.Code)
	assert.JSONEq(t, wrongCode.Body.String(), unknownEmail.Body.String())
}

func TestResetPasswordFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	userID, access, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	code := env.emails.lastResetCode(t).Value

	// A mismatched confirmation leaves everything untouched.
	mismatch := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", resetPasswordRequest{
		Token: code, Email: "alice@example.com", Password: "newpass77", PasswordConfirmation: "different",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, mismatch.Code)
	stillValid := env.do(t, http.MethodPost, "/api/v1/auth/verify-code", verifyCodeRequest{Email: "alice@example.com", Code: code}, nil)
	assert.Equal(t, http.StatusOK, stillValid.Code, "failed validation must not burn the code")

	ok := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", resetPasswordRequest{
		Token: code, Email: "alice@example.com", Password: "newpass77", PasswordConfirmation: "newpass77",
	}, nil)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	// The code is single-use, all sessions are gone, and only the new
	// password logs in.
	replay := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", resetPasswordRequest{
		Token: code, Email: "alice@example.com", Password: "another99", PasswordConfirmation: "another99",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, replay.Code)
	assert.Equal(t, 0, env.sessions.countForUser(userID))
	me := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(access))
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	oldPw := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "alice@example.com", Password: "hunter22"}, nil)
	assert.Equal(t, http.StatusUnauthorized, oldPw.Code)
	newPw := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "alice@example.com", Password: "newpass77"}, nil)
	assert.Equal(t, http.StatusOK, newPw.Code)
}

func TestResetPasswordExpiredCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "hunter22")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", forgotPasswordRequest{Email: "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	code := env.emails.lastResetCode(t).Value

	env.clock.Advance(10 * time.Minute)

	expired := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", resetPasswordRequest{
		Token: code, Email: "alice@example.com", Password: "newpass77", PasswordConfirmation: "newpass77",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, expired.Code)
}

func TestUpdatePassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	userID, access, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	wrongCurrent := env.do(t, http.MethodPut, "/api/v1/auth/password", updatePasswordRequest{
		CurrentPassword: "nope", NewPassword: "newpass77", NewPasswordConfirmation: "newpass77",
	}, bearer(access))
	assert.Equal(t, http.StatusBadRequest, wrongCurrent.Code)

	unchanged := env.do(t, http.MethodPut, "/api/v1/auth/password", updatePasswordRequest{
		CurrentPassword: "hunter22", NewPassword: "hunter22", NewPasswordConfirmation: "hunter22",
	}, bearer(access))
	assert.Equal(t, http.StatusBadRequest, unchanged.Code)

	noAuth := env.do(t, http.MethodPut, "/api/v1/auth/password", updatePasswordRequest{
		CurrentPassword: "hunter22", NewPassword: "newpass77", NewPasswordConfirmation: "newpass77",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, noAuth.Code)

	ok := env.do(t, http.MethodPut, "/api/v1/auth/password", updatePasswordRequest{
		CurrentPassword: "hunter22", NewPassword: "newpass77", NewPasswordConfirmation: "newpass77",
	}, bearer(access))
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	assert.Equal(t, 0, env.sessions.countForUser(userID), "password change revokes every session")
	login := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "alice@example.com", Password: "newpass77"}, nil)
	assert.Equal(t, http.StatusOK, login.Code)
}

func TestEmailVerificationFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, access, _ := env.register(t, "alice", "alice@example.com", "hunter22")

	sent := env.do(t, http.MethodPost, "/api/v1/auth/send-verification-email", nil, bearer(access))
	require.Equal(t, http.StatusOK, sent.Code, sent.Body.String())

	mail := env.emails.lastVerifyLink(t)
	assert.Equal(t, "alice@example.com", mail.To)
	assert.True(t, strings.HasPrefix(mail.Value, "verify_"))

	verify := env.do(t, http.MethodPost, "/api/v1/auth/verify-email", verifyEmailRequest{
		Token: mail.Value, Email: "alice@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, verify.Code, verify.Body.String())

	me := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(access))
	require.Equal(t, http.StatusOK, me.Code)
	var meResp meResponse
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &meResp))
	assert.True(t, meResp.User.IsVerified)

	// Tokens are single-use, and a verified account cannot ask again.
	replay := env.do(t, http.MethodPost, "/api/v1/auth/verify-email", verifyEmailRequest{
		Token: mail.Value, Email: "alice@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, replay.Code)
	again := env.do(t, http.MethodPost, "/api/v1/auth/send-verification-email", nil, bearer(access))
	assert.Equal(t, http.StatusBadRequest, again.Code)
}

func TestVerifyEmailTokenUserMismatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, aliceAccess, _ := env.register(t, "alice", "alice@example.com", "hunter22")
	env.register(t, "bob", "bob@example.com", "hunter22")

	sent := env.do(t, http.MethodPost, "/api/v1/auth/send-verification-email", nil, bearer(aliceAccess))
	require.Equal(t, http.StatusOK, sent.Code)
	tok := env.emails.lastVerifyLink(t).Value

	// Alice's token must not verify Bob's address.
	rec := env.do(t, http.MethodPost, "/api/v1/auth/verify-email", verifyEmailRequest{
		Token: tok, Email: "bob@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStrictJSONDecoding(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.c","password":"x","bogus":1}`))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/login", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
