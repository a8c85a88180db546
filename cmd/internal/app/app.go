// Package app wires the readmemo server runtime: config, logging,
// database pool, migrations, and the auth HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "readmemo/cmd/internal/auth/api"
	"readmemo/cmd/internal/auth/onetime"
	"readmemo/cmd/internal/auth/session"
	"readmemo/cmd/internal/email"
	"readmemo/cmd/security/password"
)

// App owns the HTTP server and the resources it serves from.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	auth   *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: READMEMO_DATABASE_URL is required")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	otCfg, err := onetime.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	authCfg := authapi.LoadConfigFromEnv()

	sender := newEmailSender(cfg, log)

	auth, err := authapi.NewHandler(log, pool, authCfg, sessCfg, pwCfg, otCfg,
		authapi.WithEmailSender(sender),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		log:    log,
		dbPool: pool,
		auth:   auth,
	}, nil
}

func newEmailSender(cfg Config, log Logger) email.Sender {
	if cfg.ResendAPIKey == "" {
		log.Warn("email.sender.disabled", "reason", "no_api_key")
		return email.NopSender{}
	}
	return email.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom, cfg.AppBaseURL)
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.auth)

	var handler http.Handler = mux
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)
	handler = WithRequestID(handler)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.dbPool.Close()

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
