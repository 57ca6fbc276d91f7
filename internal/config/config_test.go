package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, existed := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("Setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	old, existed := os.LookupEnv(key)
	_ = os.Unsetenv(key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, old)
		}
	})
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	setEnv(t, "DB_ADDR", "postgres://localhost:5432/db")
	setEnv(t, "JWT_SECRET", "secret")
	unsetEnv(t, "APP_ENV")
	unsetEnv(t, "ENV")
}

func TestLoad_MissingDBAddr_ReturnsError(t *testing.T) {
	unsetEnv(t, "DB_ADDR")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if err.Error() != "missing required env var: DB_ADDR" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_MissingJWTSecretInProduction_ReturnsError(t *testing.T) {
	setEnv(t, "DB_ADDR", "postgres://localhost:5432/db")
	unsetEnv(t, "JWT_SECRET")
	setEnv(t, "APP_ENV", "production")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestLoad_Defaults_WhenOptionalUnset(t *testing.T) {
	setRequiredEnv(t)
	unsetEnv(t, "KEY_ROTATION_INTERVAL")
	unsetEnv(t, "KEY_GRACE_PERIOD")
	unsetEnv(t, "CLEANUP_INTERVAL_MINUTES")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Env != "development" {
		t.Fatalf("Env default mismatch: got %q", cfg.Env)
	}
	if cfg.KeyRotationInterval != 30*24*time.Hour {
		t.Fatalf("KeyRotationInterval default mismatch: got %v", cfg.KeyRotationInterval)
	}
	if cfg.CleanupIntervalMinutes != 15 {
		t.Fatalf("CleanupIntervalMinutes default mismatch: got %v", cfg.CleanupIntervalMinutes)
	}
	if !cfg.CleanupEnabled {
		t.Fatalf("CleanupEnabled default mismatch: got %v", cfg.CleanupEnabled)
	}
}

func TestLoad_OverridesOptionalValues_FromEnv(t *testing.T) {
	setRequiredEnv(t)
	setEnv(t, "APP_ENV", "staging")
	setEnv(t, "CLEANUP_BATCH_SIZE", "250")
	setEnv(t, "KEY_GRACE_PERIOD", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Env != "staging" {
		t.Fatalf("Env override mismatch: got %q", cfg.Env)
	}
	if cfg.CleanupBatchSize != 250 {
		t.Fatalf("CleanupBatchSize override mismatch: got %v", cfg.CleanupBatchSize)
	}
	if cfg.KeyGracePeriod != 48*time.Hour {
		t.Fatalf("KeyGracePeriod override mismatch: got %v", cfg.KeyGracePeriod)
	}
}

func TestLoad_InvalidDuration_ReturnsError(t *testing.T) {
	setRequiredEnv(t)
	setEnv(t, "KEY_ROTATION_INTERVAL", "not-a-duration")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestLoad_InvalidPostgresDSN_ReturnsError(t *testing.T) {
	setEnv(t, "JWT_SECRET", "secret")
	setEnv(t, "DB_ADDR", "not-a-dsn")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}
