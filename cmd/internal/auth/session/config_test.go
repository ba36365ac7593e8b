package session

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("BLOG_AUTH_ACCESS_TTL", "")
	t.Setenv("BLOG_AUTH_REFRESH_TTL", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	cases := map[string]string{
		"BLOG_AUTH_ACCESS_TTL":  "-5m",
		"BLOG_AUTH_REFRESH_TTL": "soon",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := LoadConfigFromEnv()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig for %s=%q, got %v", key, val, err)
			}
		})
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("BLOG_AUTH_ACCESS_TTL", "10s")
	t.Setenv("BLOG_AUTH_REFRESH_TTL", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTokenTTL != 10*time.Second {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 20*time.Second {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTokenTTL)
	}
}
