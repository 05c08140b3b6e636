package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_TIMEOUT_SECONDS", "")
	t.Setenv("COUNTER_BACKEND", "")
	t.Setenv("COUNTER_MAX_ATTEMPTS", "")
	cfg := Load()
	if cfg.StoreTimeout != 30*time.Second {
		t.Fatalf("StoreTimeout = %v", cfg.StoreTimeout)
	}
	if cfg.CounterBackend != "postgres" || cfg.CounterMaxAttempts != 64 {
		t.Fatalf("counter config = %q / %d", cfg.CounterBackend, cfg.CounterMaxAttempts)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_TIMEOUT_SECONDS", "5")
	t.Setenv("COUNTER_BACKEND", "Redis")
	t.Setenv("COUNTER_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("MEDIA_USE_SSL", "true")
	cfg := Load()
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("StoreTimeout = %v", cfg.StoreTimeout)
	}
	if cfg.CounterBackend != "redis" {
		t.Fatalf("CounterBackend = %q", cfg.CounterBackend)
	}
	if cfg.CounterMaxAttempts != 64 {
		t.Fatalf("CounterMaxAttempts = %d, want fallback", cfg.CounterMaxAttempts)
	}
	if !cfg.MediaUseSSL {
		t.Fatal("MediaUseSSL = false")
	}
}
