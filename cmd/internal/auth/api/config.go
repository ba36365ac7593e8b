package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per client IP and route sliding window for the credential POST routes.
	RateLimitMax    int
	RateLimitWindow time.Duration

	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// TestingEndpoints registers DELETE /testing/all-data.
	TestingEndpoints bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		RateLimitMax:      5,
		RateLimitWindow:   10 * time.Second,
		RefreshCookieName: "refreshToken",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:        envBool("BLOG_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("BLOG_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		RateLimitMax:      envInt("BLOG_AUTH_RATE_LIMIT_MAX", def.RateLimitMax),
		RateLimitWindow:   envDuration("BLOG_AUTH_RATE_LIMIT_WINDOW", def.RateLimitWindow),
		RefreshCookieName: envString("BLOG_AUTH_REFRESH_COOKIE", def.RefreshCookieName),
		CookiePath:        envString("BLOG_COOKIE_PATH", def.CookiePath),
		CookieDomain:      envString("BLOG_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("BLOG_COOKIE_SECURE", def.CookieSecure),
		CookieSameSite:    parseSameSite(os.Getenv("BLOG_COOKIE_SAMESITE"), def.CookieSameSite),
		TestingEndpoints:  envBool("BLOG_TESTING_ENDPOINTS", false),
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = def.RefreshCookieName
	}
	return cfg
}

func parseSameSite(v string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return def
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
