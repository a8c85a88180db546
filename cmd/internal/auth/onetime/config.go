package onetime

import (
	"os"
	"time"
)

// Config holds the TTL policy for each token kind.
type Config struct {
	// ResetCodeTTL bounds how long an emailed 4-digit reset code works.
	// Short on purpose: the code space is small.
	ResetCodeTTL time.Duration

	// VerifyTokenTTL bounds email-verification links.
	VerifyTokenTTL time.Duration
}

// DefaultConfig returns the default policy: 10 minutes for reset codes,
// 24 hours for verification links.
func DefaultConfig() Config {
	return Config{
		ResetCodeTTL:   10 * time.Minute,
		VerifyTokenTTL: 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads token TTLs from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - READMEMO_AUTH_RESET_CODE_TTL
//   - READMEMO_AUTH_VERIFY_TOKEN_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("READMEMO_AUTH_RESET_CODE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ResetCodeTTL = d
	}

	if v := os.Getenv("READMEMO_AUTH_VERIFY_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.VerifyTokenTTL = d
	}

	return cfg, nil
}
