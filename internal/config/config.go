// Package config loads process configuration from the environment once
// at startup. The resulting value is immutable and injected into the
// components that need it; nothing reads ambient state at call time.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	envAddr          = "DEVICEWATCH_ADDR"
	envPGDSN         = "DEVICEWATCH_PG_DSN"
	envRedisURL      = "DEVICEWATCH_REDIS_URL"
	envAccessSecret  = "DEVICEWATCH_ACCESS_SECRET"
	envRefreshSecret = "DEVICEWATCH_REFRESH_SECRET"
	envAccessTTL     = "DEVICEWATCH_ACCESS_TTL"
	envRefreshTTL    = "DEVICEWATCH_REFRESH_TTL"
	envIssuer        = "DEVICEWATCH_ISSUER"
)

const minSecretLength = 32

// Config is the immutable process configuration.
type Config struct {
	Addr string

	// PostgresDSN is required; session and credential correctness
	// cannot be guessed without the store.
	PostgresDSN string

	// RedisURL is optional. Empty disables rate-limit enforcement
	// (fail-open).
	RedisURL string

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:          getenv(envAddr, ":8080"),
		PostgresDSN:   strings.TrimSpace(os.Getenv(envPGDSN)),
		RedisURL:      strings.TrimSpace(os.Getenv(envRedisURL)),
		AccessSecret:  strings.TrimSpace(os.Getenv(envAccessSecret)),
		RefreshSecret: strings.TrimSpace(os.Getenv(envRefreshSecret)),
		Issuer:        getenv(envIssuer, "devicewatch"),
	}
	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("config: %s is required", envPGDSN)
	}
	if len(cfg.AccessSecret) < minSecretLength {
		return Config{}, fmt.Errorf("config: %s must be at least %d bytes", envAccessSecret, minSecretLength)
	}
	if len(cfg.RefreshSecret) < minSecretLength {
		return Config{}, fmt.Errorf("config: %s must be at least %d bytes", envRefreshSecret, minSecretLength)
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return Config{}, errors.New("config: access and refresh secrets must differ")
	}

	var err error
	if cfg.AccessTTL, err = getduration(envAccessTTL, 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = getduration(envRefreshTTL, 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return Config{}, errors.New("config: access TTL must be shorter than refresh TTL")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}
