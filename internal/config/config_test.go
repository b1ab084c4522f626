package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("SYNC_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.App.Addr() != "0.0.0.0:9090" {
		t.Fatalf("unexpected addr %s", cfg.App.Addr())
	}
	if cfg.Sync.RetryMaxAttempts != 3 {
		t.Fatalf("expected retry attempts 3, got %d", cfg.Sync.RetryMaxAttempts)
	}
	if cfg.Postgres.RunMigrations {
		t.Fatalf("expected migrations disabled")
	}
	if cfg.Redis.ChangeChannel != "tickets:changes" {
		t.Fatalf("unexpected change channel %s", cfg.Redis.ChangeChannel)
	}
	if cfg.Sync.RetryInitial() != 200*time.Millisecond {
		t.Fatalf("unexpected retry initial %v", cfg.Sync.RetryInitial())
	}
}

func TestLoadRejectsDevSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for default secret in production")
	}
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("SYNC_HEARTBEAT_SECONDS", "abc")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Sync.Heartbeat() != 15*time.Second {
		t.Fatalf("expected fallback heartbeat, got %v", cfg.Sync.Heartbeat())
	}
}
