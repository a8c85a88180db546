package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool

	// If true, /readyz returns 503 while the database is unreachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Outbound email (Resend). With no API key the sender is a no-op and
	// reset/verification mails are logged instead of sent.
	ResendAPIKey string
	EmailFrom    string

	// AppBaseURL is the public URL verification links point at.
	AppBaseURL string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("READMEMO_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("READMEMO_LOG_LEVEL", "info"),
		LogFormat: EnvString("READMEMO_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("READMEMO_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("READMEMO_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("READMEMO_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("READMEMO_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("READMEMO_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:    EnvString("READMEMO_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("READMEMO_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("READMEMO_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("READMEMO_DB_MIGRATE_ON_START", true),

		ReadinessRequireDB: EnvBool("READMEMO_READINESS_REQUIRE_DB", true),

		CORSAllowedOrigins:   EnvStringSlice("READMEMO_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("READMEMO_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("READMEMO_CORS_MAX_AGE_SECONDS", 600),

		ResendAPIKey: EnvString("READMEMO_RESEND_API_KEY", ""),
		EmailFrom:    EnvString("READMEMO_EMAIL_FROM", "no-reply@readmemo.app"),

		AppBaseURL: EnvString("READMEMO_APP_BASE_URL", "http://localhost:8080"),
	}
}
