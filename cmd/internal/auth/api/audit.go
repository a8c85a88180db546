package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

func (h *Handler) auditRegister(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.register", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditLoginFailed(ctx context.Context, userID *int64, ip net.IP, ua string, identifier, reason string) {
	h.insertAudit(ctx, "auth.login.failed", userID, nil, ip, ua, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID int64, ip net.IP, ua string, identifier string) {
	h.insertAudit(ctx, "auth.login.success", &userID, &sessionID, ip, ua, map[string]any{
		"identifier": identifier,
	})
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string, identifier string, retryAfter time.Duration) {
	h.insertAudit(ctx, "auth.login.rate_limited", nil, nil, ip, ua, map[string]any{
		"identifier":    identifier,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", nil, nil, ip, ua, nil)
}

func (h *Handler) auditRefresh(ctx context.Context, sessionID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.success", nil, &sessionID, ip, ua, nil)
}

func (h *Handler) auditForgotPassword(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.forgot_password", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditPasswordReset(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.password.reset", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditPasswordUpdated(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.password.updated", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditVerificationSent(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.email.verification_sent", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditEmailVerified(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.email.verified", &userID, nil, ip, ua, nil)
}

// insertAudit records an auth event. Best effort: failures are logged,
// never surfaced to the client. A nil pool disables auditing entirely.
func (h *Handler) insertAudit(ctx context.Context, action string, userID, sessionID *int64, ip net.IP, ua string, meta map[string]any) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	authEventsTotal.WithLabelValues(action).Inc()

	if h == nil || h.pool == nil {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	table := pgx.Identifier{h.schema, "audit_log"}.Sanitize()
	_, err := h.pool.Exec(ctx, `
		INSERT INTO `+table+` (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
