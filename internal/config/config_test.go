package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8000" {
		t.Fatalf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.MaxWorkers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.MaxWorkers)
	}
	if cfg.CancelGrace != 10*time.Second {
		t.Fatalf("expected 10s cancel grace, got %s", cfg.CancelGrace)
	}
	if cfg.OutputDestination != "local" {
		t.Fatalf("expected local destination, got %s", cfg.OutputDestination)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9000")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("CANCEL_GRACE", "2s")
	t.Setenv("OUTPUT_S3_PATH_STYLE", "true")
	t.Setenv("RATE_LIMIT_RPS", "5.5")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Fatalf("port override lost: %s", cfg.Port)
	}
	if cfg.MaxWorkers != 8 {
		t.Fatalf("workers override lost: %d", cfg.MaxWorkers)
	}
	if cfg.CancelGrace != 2*time.Second {
		t.Fatalf("grace override lost: %s", cfg.CancelGrace)
	}
	if !cfg.S3PathStyle {
		t.Fatalf("path style override lost")
	}
	if cfg.RateLimitRPS != 5.5 {
		t.Fatalf("rps override lost: %v", cfg.RateLimitRPS)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_WORKERS", "many")
	t.Setenv("CANCEL_GRACE", "soon")

	cfg := Load()
	if cfg.MaxWorkers != 4 {
		t.Fatalf("malformed int should fall back to default, got %d", cfg.MaxWorkers)
	}
	if cfg.CancelGrace != 10*time.Second {
		t.Fatalf("malformed duration should fall back to default, got %s", cfg.CancelGrace)
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: "8000"}
	if cfg.Addr() != "127.0.0.1:8000" {
		t.Fatalf("unexpected addr %s", cfg.Addr())
	}
}
