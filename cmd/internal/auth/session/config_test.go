package session

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v; want 1h", cfg.SessionTTL)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("READMEMO_AUTH_SESSION_TTL", "30m")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v; want 30m", cfg.SessionTTL)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	for _, v := range []string{"nope", "-1h", "0s"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("READMEMO_AUTH_SESSION_TTL", v)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v; want ErrConfig", err)
			}
		})
	}
}
