// Package config loads engine-level configuration from the environment,
// the same way the host service this engine was extracted from does: a flat
// Config struct, required vars fail fast, optional vars fall back to sane
// defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env string // dev / staging / production

	// Data access
	DBDriver string // "postgres" | "sqlite"
	DBAddr   string
	DBDebug  bool

	// Cache / session / cleanup-lock backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Notification delivery
	RabbitURL      string
	RabbitExchange string

	// Token Codec
	JWTIssuer           string
	JWTAudience         string
	JWTSecret           string // required by Load in production; JWT signing uses the JWKS keyring and does not read it
	KeyRotationInterval time.Duration
	KeyGracePeriod      time.Duration

	// Cleanup Scheduler
	CleanupEnabled         bool
	CleanupIntervalMinutes int
	CleanupBatchSize       int
	CleanupRetentionDays   int

	// Federation (OIDC)
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Breach-corpus lookup
	BreachLookupURL     string
	BreachLookupTimeout time.Duration
}

// Load reads a .env file if present (development convenience only — it is
// never required) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.Env = getEnvFirst([]string{"APP_ENV", "ENV"}, "development")

	cfg.DBDriver = getEnv("DB_DRIVER", "postgres")
	cfg.DBAddr = strings.TrimSpace(os.Getenv("DB_ADDR"))
	if cfg.DBAddr == "" {
		return nil, fmt.Errorf("missing required env var: DB_ADDR")
	}
	if cfg.DBDriver == "postgres" {
		if err := validatePostgresDSN(cfg.DBAddr); err != nil {
			return nil, fmt.Errorf("invalid DB_ADDR: %w", err)
		}
	}
	cfg.DBDebug = parseBool(getEnv("DB_DEBUG", "false"))

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	var err error
	cfg.RedisDB, err = getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg.RabbitURL = strings.TrimSpace(os.Getenv("RABBIT_URL"))
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "auth.notifications")

	cfg.JWTIssuer = getEnv("JWT_ISSUER", "authengine")
	cfg.JWTAudience = getEnv("JWT_AUDIENCE", "authengine-clients")
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if cfg.JWTSecret == "" && cfg.Env == "production" {
		return nil, fmt.Errorf("missing required env var: JWT_SECRET")
	}

	cfg.KeyRotationInterval, err = getDuration("KEY_ROTATION_INTERVAL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.KeyGracePeriod, err = getDuration("KEY_GRACE_PERIOD", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.CleanupEnabled = parseBool(getEnv("CLEANUP_ENABLED", "true"))
	cfg.CleanupIntervalMinutes, err = getInt("CLEANUP_INTERVAL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	cfg.CleanupBatchSize, err = getInt("CLEANUP_BATCH_SIZE", 500)
	if err != nil {
		return nil, err
	}
	cfg.CleanupRetentionDays, err = getInt("CLEANUP_RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}

	cfg.OIDCClientID = getEnv("OIDC_CLIENT_ID", "")
	cfg.OIDCClientSecret = getEnv("OIDC_CLIENT_SECRET", "")
	cfg.OIDCRedirectURL = getEnv("OIDC_REDIRECT_URL", "")

	cfg.BreachLookupURL = getEnv("BREACH_LOOKUP_URL", "")
	cfg.BreachLookupTimeout, err = getDuration("BREACH_LOOKUP_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFirst(keys []string, def string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q: %w", key, v, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %q: %w", key, v, err)
	}
	return n, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func validatePostgresDSN(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("scheme must be postgres/postgresql, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("missing database name in path, expected /<db>")
	}
	return nil
}
