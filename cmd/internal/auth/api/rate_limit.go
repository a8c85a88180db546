package authapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Login throttling counts recent auth.login.failed audit rows. With no
// pool (store-injected handlers) the throttle is disabled.

func (h *Handler) checkLoginIPThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if h.pool == nil || ip == nil || h.cfg.LoginIPMax <= 0 {
		return false, 0, nil
	}
	cut := now.Add(-h.cfg.LoginIPWindow)
	count, err := h.countLoginFailuresByIP(ctx, ip, cut)
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.LoginIPMax {
		return true, h.cfg.LoginIPWindow, nil
	}
	return false, 0, nil
}

func (h *Handler) checkLoginIdentifierThrottle(ctx context.Context, identifier string, now time.Time) (bool, time.Duration, error) {
	if h.pool == nil || identifier == "" || h.cfg.LoginIdentifierMax <= 0 {
		return false, 0, nil
	}
	cut := now.Add(-h.cfg.LoginIdentifierWindow)
	count, err := h.countLoginFailuresByIdentifier(ctx, identifier, cut)
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.LoginIdentifierMax {
		return true, h.cfg.LoginIdentifierWindow, nil
	}
	return false, 0, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// ---- audit queries ----

func (h *Handler) countLoginFailuresByIP(ctx context.Context, ip net.IP, since time.Time) (int, error) {
	table := pgx.Identifier{h.schema, "audit_log"}.Sanitize()
	var n int
	err := h.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM `+table+`
		WHERE action = 'auth.login.failed'
		  AND ip = $1
		  AND created_at >= $2
	`, ip.String(), since).Scan(&n)
	return n, err
}

func (h *Handler) countLoginFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	table := pgx.Identifier{h.schema, "audit_log"}.Sanitize()
	var n int
	err := h.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM `+table+`
		WHERE action = 'auth.login.failed'
		  AND meta->>'identifier' = $1
		  AND created_at >= $2
	`, identifier, since).Scan(&n)
	return n, err
}
