package config

import (
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEVICEWATCH_PG_DSN", "postgres://localhost:5432/devicewatch?sslmode=disable")
	t.Setenv("DEVICEWATCH_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("DEVICEWATCH_REFRESH_SECRET", strings.Repeat("b", 32))
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access TTL %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected refresh TTL %v", cfg.RefreshTTL)
	}
	if cfg.Issuer != "devicewatch" {
		t.Fatalf("unexpected issuer %q", cfg.Issuer)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("redis must default to empty, got %q", cfg.RedisURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("DEVICEWATCH_ADDR", ":9090")
	t.Setenv("DEVICEWATCH_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DEVICEWATCH_ACCESS_TTL", "5m")
	t.Setenv("DEVICEWATCH_REFRESH_TTL", "168h")
	t.Setenv("DEVICEWATCH_ISSUER", "devicewatch-staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.AccessTTL != 5*time.Minute || cfg.RefreshTTL != 168*time.Hour {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Issuer != "devicewatch-staging" {
		t.Fatalf("unexpected issuer %q", cfg.Issuer)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	setValidEnv(t)
	t.Setenv("DEVICEWATCH_PG_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for missing DSN")
	}
}

func TestLoadRejectsWeakSecrets(t *testing.T) {
	setValidEnv(t)
	t.Setenv("DEVICEWATCH_ACCESS_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a short access secret")
	}

	setValidEnv(t)
	t.Setenv("DEVICEWATCH_REFRESH_SECRET", strings.Repeat("a", 32))
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for identical secrets")
	}
}

func TestLoadRejectsBadTTL(t *testing.T) {
	setValidEnv(t)
	t.Setenv("DEVICEWATCH_ACCESS_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected a parse error")
	}

	setValidEnv(t)
	t.Setenv("DEVICEWATCH_ACCESS_TTL", "48h")
	t.Setenv("DEVICEWATCH_REFRESH_TTL", "24h")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for access TTL >= refresh TTL")
	}
}
