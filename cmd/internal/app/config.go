package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"blogapi/cmd/internal/dbx"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid app config")

// StoreKind selects the persistence backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
	StoreSQLite   StoreKind = "sqlite"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	Store       StoreKind
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	SQLitePath  string
	AutoMigrate bool

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// If true, BLOG_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	RecoveryTTL time.Duration
	ClientURL   string

	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
// BLOG_STORE defaults to postgres when BLOG_DATABASE_URL is set, memory otherwise.
func LoadConfig() (Config, error) {
	dbURL := EnvString("BLOG_DATABASE_URL", "")
	defStore := StoreMemory
	if dbURL != "" {
		defStore = StorePostgres
	}

	cfg := Config{
		HTTPAddr:  EnvString("BLOG_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BLOG_LOG_LEVEL", "info"),
		LogFormat: EnvString("BLOG_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BLOG_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BLOG_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BLOG_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BLOG_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BLOG_HTTP_MAX_HEADER_BYTES", 1<<20),

		Store:       StoreKind(strings.ToLower(EnvString("BLOG_STORE", string(defStore)))),
		DatabaseURL: dbURL,
		DBSchema:    EnvString("BLOG_DB_SCHEMA", dbx.DefaultSchema),
		DBMaxConns:  EnvInt32("BLOG_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BLOG_DB_MIN_CONNS", 0),
		SQLitePath:  EnvString("BLOG_SQLITE_PATH", "blog.db"),
		AutoMigrate: EnvBool("BLOG_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("BLOG_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("BLOG_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("BLOG_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("BLOG_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("BLOG_CORS_MAX_AGE", 600),

		RecoveryTTL: EnvDuration("BLOG_RECOVERY_TTL", 24*time.Hour),
		ClientURL:   EnvString("BLOG_CLIENT_URL", "http://localhost:3000"),

		MetricsEnabled: EnvBool("BLOG_METRICS_ENABLED", true),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: BLOG_STORE=postgres requires BLOG_DATABASE_URL", ErrConfig)
		}
		if !dbx.ValidSchema(c.DBSchema) {
			return fmt.Errorf("%w: BLOG_DB_SCHEMA %q", ErrConfig, c.DBSchema)
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: BLOG_STORE=sqlite requires BLOG_SQLITE_PATH", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown BLOG_STORE %q", ErrConfig, c.Store)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: BLOG_DB_MIN_CONNS > BLOG_DB_MAX_CONNS", ErrConfig)
	}
	if c.RecoveryTTL <= 0 {
		return fmt.Errorf("%w: BLOG_RECOVERY_TTL must be > 0", ErrConfig)
	}
	return nil
}

// DBEnabled reports whether a SQL backend is configured.
func (c Config) DBEnabled() bool { return c.Store != StoreMemory }
