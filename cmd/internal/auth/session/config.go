package session

import (
	"os"
	"time"
)

// Config defines runtime configuration for the session subsystem.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// SessionTTL is the shared lifetime of the access and refresh token.
	// A refresh rotation re-arms it; the refresh token has no independent
	// lifetime of its own.
	SessionTTL time.Duration
}

// DefaultConfig returns the default session policy: one hour.
func DefaultConfig() Config {
	return Config{
		SessionTTL: time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - READMEMO_AUTH_SESSION_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("READMEMO_AUTH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	return cfg, nil
}
