package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.AppName != "tallyd" {
		t.Fatalf("expected default app name, got %q", cfg.AppName)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.FlushInterval != 3*time.Second {
		t.Fatalf("expected 3s flush interval, got %s", cfg.FlushInterval)
	}
	if cfg.ReconcileInterval != 45*time.Second {
		t.Fatalf("expected 45s reconcile interval, got %s", cfg.ReconcileInterval)
	}
	if cfg.RateLimit.Enabled {
		t.Fatal("rate limiting should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("FLUSH_INTERVAL", "500ms")
	t.Setenv("RECONCILE_INTERVAL", "2m")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")
	t.Setenv("RATE_LIMIT_DEVICE_BURST", "5")

	cfg := Load()

	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected overridden http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.FlushInterval != 500*time.Millisecond {
		t.Fatalf("expected 500ms flush interval, got %s", cfg.FlushInterval)
	}
	if cfg.ReconcileInterval != 2*time.Minute {
		t.Fatalf("expected 2m reconcile interval, got %s", cfg.ReconcileInterval)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RedisAddr != "localhost:6379" {
		t.Fatalf("expected rate limit enabled with redis addr, got %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.DeviceBurst != 5 {
		t.Fatalf("expected burst 5, got %d", cfg.RateLimit.DeviceBurst)
	}
}

func TestGetenvDurationRejectsInvalid(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL", "not-a-duration")

	cfg := Load()
	if cfg.FlushInterval != 3*time.Second {
		t.Fatalf("invalid duration should keep default, got %s", cfg.FlushInterval)
	}

	t.Setenv("FLUSH_INTERVAL", "-5s")
	cfg = Load()
	if cfg.FlushInterval != 3*time.Second {
		t.Fatalf("negative duration should keep default, got %s", cfg.FlushInterval)
	}
}
