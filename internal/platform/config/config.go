package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	LogFormat       string
	ServicesFile    string
	VerificationURI string

	Tokens    TokenConfig
	Device    DeviceConfig
	Store     StoreConfig
	Redis     RedisConfig
	Audit     AuditConfig
	Postgres  PostgresConfig
	RateLimit RateLimitConfig
}

// TokenConfig controls access and refresh ticket lifetimes and encoding.
type TokenConfig struct {
	Format          string // opaque | jwt
	SigningKey      string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// DeviceConfig controls the device authorization flow.
type DeviceConfig struct {
	CodeTTL      time.Duration
	PollInterval time.Duration
	// Retention keeps lapsed device codes readable so late polls see
	// expired_token.
	Retention      time.Duration
	UserCodeLength int
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Backend         string // memory | redis | postgres
	CleanupInterval time.Duration
	KeyPrefix       string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// RateLimitConfig sets per-IP request budgets. Redis backs the limiter when
// REDIS_URL is set.
type RateLimitConfig struct {
	Enabled        bool
	Window         time.Duration
	TokenRequests  int
	VerifyRequests int
}

// AuditConfig selects where audit events go.
type AuditConfig struct {
	Sink         string // log | memory | postgres | kafka
	BufferSize   int
	KafkaBrokers []string
	KafkaTopic   string
}

const defaultSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envOr("TICKETD_ADDR", ":8080"),
		Environment:     envOr("TICKETD_ENV", "development"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		ServicesFile:    os.Getenv("SERVICES_FILE"),
		VerificationURI: envOr("DEVICE_VERIFICATION_URI", "http://localhost:8080/device"),
		Tokens: TokenConfig{
			Format:     envOr("TOKEN_FORMAT", "opaque"),
			SigningKey: envOr("JWT_SIGNING_KEY", defaultSigningKey),
			Issuer:     envOr("JWT_ISSUER", "ticketd"),
		},
		Store: StoreConfig{
			Backend:   envOr("TICKET_STORE", "memory"),
			KeyPrefix: envOr("TICKET_KEY_PREFIX", "ticketd:ticket:"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Audit: AuditConfig{
			Sink:         envOr("AUDIT_SINK", "log"),
			KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
			KafkaTopic:   envOr("AUDIT_KAFKA_TOPIC", "ticketd.audit"),
		},
	}

	var err error
	if cfg.RateLimit.Enabled, err = boolOr("RATE_LIMIT_ENABLED", true); err != nil {
		return Server{}, err
	}
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"ACCESS_TOKEN_TTL", 2 * time.Hour, &cfg.Tokens.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", 30 * 24 * time.Hour, &cfg.Tokens.RefreshTokenTTL},
		{"DEVICE_CODE_TTL", 5 * time.Minute, &cfg.Device.CodeTTL},
		{"DEVICE_POLL_INTERVAL", 5 * time.Second, &cfg.Device.PollInterval},
		{"DEVICE_CODE_RETENTION", 5 * time.Minute, &cfg.Device.Retention},
		{"RATE_LIMIT_WINDOW", time.Minute, &cfg.RateLimit.Window},
		{"TICKET_CLEANUP_INTERVAL", time.Minute, &cfg.Store.CleanupInterval},
		{"REDIS_DIAL_TIMEOUT", 5 * time.Second, &cfg.Redis.DialTimeout},
		{"REDIS_READ_TIMEOUT", 3 * time.Second, &cfg.Redis.ReadTimeout},
		{"REDIS_WRITE_TIMEOUT", 3 * time.Second, &cfg.Redis.WriteTimeout},
	}
	for _, d := range durations {
		if *d.dest, err = durationOr(d.key, d.def); err != nil {
			return Server{}, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"DEVICE_USER_CODE_LENGTH", 8, &cfg.Device.UserCodeLength},
		{"REDIS_POOL_SIZE", 10, &cfg.Redis.PoolSize},
		{"REDIS_MIN_IDLE_CONNS", 2, &cfg.Redis.MinIdleConns},
		{"DATABASE_MAX_OPEN_CONNS", 20, &cfg.Postgres.MaxOpenConns},
		{"DATABASE_MAX_IDLE_CONNS", 5, &cfg.Postgres.MaxIdleConns},
		{"AUDIT_BUFFER_SIZE", 1024, &cfg.Audit.BufferSize},
		{"RATE_LIMIT_TOKEN_REQUESTS", 120, &cfg.RateLimit.TokenRequests},
		{"RATE_LIMIT_VERIFY_REQUESTS", 10, &cfg.RateLimit.VerifyRequests},
	}
	for _, i := range ints {
		if *i.dest, err = intOr(i.key, i.def); err != nil {
			return Server{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot start.
func (c Server) Validate() error {
	switch c.Tokens.Format {
	case "opaque", "jwt":
	default:
		return fmt.Errorf("TOKEN_FORMAT must be opaque or jwt, got %q", c.Tokens.Format)
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("TICKET_STORE=redis requires REDIS_URL")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("TICKET_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown TICKET_STORE %q", c.Store.Backend)
	}
	switch c.Audit.Sink {
	case "log", "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("AUDIT_SINK=postgres requires DATABASE_URL")
		}
	case "kafka":
		if len(c.Audit.KafkaBrokers) == 0 {
			return fmt.Errorf("AUDIT_SINK=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown AUDIT_SINK %q", c.Audit.Sink)
	}
	if c.Device.UserCodeLength < 6 {
		return fmt.Errorf("DEVICE_USER_CODE_LENGTH must be at least 6")
	}
	if c.Tokens.Format == "jwt" && c.Environment == "production" && c.Tokens.SigningKey == defaultSigningKey {
		return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intOr(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func boolOr(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
