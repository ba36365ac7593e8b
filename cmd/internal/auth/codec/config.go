package codec

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// MinJWTSecretBytes is the shortest accepted HS256 secret.
const MinJWTSecretBytes = 32

// Config selects and keys the credential encoding.
type Config struct {
	Format Format

	// Issuer is written to and required in every credential.
	Issuer string

	// JWTSecret is the HS256 key (FormatJWT).
	JWTSecret []byte

	// PasetoSecretKeyHex is the hex-encoded Ed25519 secret key (FormatPaseto).
	PasetoSecretKeyHex string

	// ClockSkew is the tolerance applied to expiry checks.
	ClockSkew time.Duration
}

// DefaultConfig returns JWT with no secret; a secret must be supplied.
func DefaultConfig() Config {
	return Config{
		Format:    FormatJWT,
		Issuer:    "blogapi",
		ClockSkew: 5 * time.Second,
	}
}

// LoadConfigFromEnv reads:
//   - BLOG_AUTH_TOKEN_FORMAT (jwt|paseto)
//   - BLOG_AUTH_ISSUER
//   - BLOG_AUTH_JWT_SECRET (required for jwt, >= 32 bytes)
//   - BLOG_AUTH_PASETO_SECRET_KEY_HEX (required for paseto)
//   - BLOG_AUTH_CLOCK_SKEW
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("BLOG_AUTH_TOKEN_FORMAT")); v != "" {
		cfg.Format = Format(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("BLOG_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("BLOG_AUTH_JWT_SECRET"); v != "" {
		cfg.JWTSecret = []byte(v)
	}
	cfg.PasetoSecretKeyHex = strings.TrimSpace(os.Getenv("BLOG_AUTH_PASETO_SECRET_KEY_HEX"))

	if v := os.Getenv("BLOG_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: BLOG_AUTH_CLOCK_SKEW", ErrConfig)
		}
		cfg.ClockSkew = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected format has usable key material.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: negative clock skew", ErrConfig)
	}
	switch c.Format {
	case FormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrConfig, MinJWTSecretBytes)
		}
	case FormatPaseto:
		if c.PasetoSecretKeyHex == "" {
			return fmt.Errorf("%w: paseto secret key is required", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.Format)
	}
	return nil
}
