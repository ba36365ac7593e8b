package session

import (
	"fmt"
	"os"
	"time"
)

// Config defines token lifetimes for the session subsystem.
type Config struct {
	// AccessTokenTTL is the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens and of the device session bound to them.
	RefreshTokenTTL time.Duration
}

// DefaultConfig returns 15 minute access tokens and 7 day refresh tokens.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - BLOG_AUTH_ACCESS_TTL
//   - BLOG_AUTH_REFRESH_TTL
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BLOG_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: BLOG_AUTH_ACCESS_TTL=%q", ErrConfig, v)
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("BLOG_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: BLOG_AUTH_REFRESH_TTL=%q", ErrConfig, v)
		}
		cfg.RefreshTokenTTL = d
	}

	return cfg, cfg.Validate()
}

// Validate checks that both lifetimes are positive.
func (c Config) Validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("%w: token ttls must be positive", ErrConfig)
	}
	return nil
}
