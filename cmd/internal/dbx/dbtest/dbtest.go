// Package dbtest opens throwaway databases for store tests.
//
// Postgres tests are opt-in and require BLOG_DATABASE_URL; every call gets a
// fresh schema that is dropped on cleanup. SQLite databases live in t.TempDir().
package dbtest

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"blogapi/cmd/internal/dbx"
	"blogapi/cmd/internal/migrations"
)

// DatabaseURLEnv names the variable holding the Postgres test DSN.
const DatabaseURLEnv = "BLOG_DATABASE_URL"

// Postgres returns a migrated pool bound to a fresh schema, and that schema's name.
func Postgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(DatabaseURLEnv))
	if raw == "" {
		t.Skip("integration test skipped: " + DatabaseURLEnv + " is not set")
	}

	schema := "blog_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", DatabaseURLEnv, err)
	}
	dbx.SetSearchPath(cfg, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	if _, err := migrations.UpPostgres(ctx, pool, schema); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+dbx.PgIdent1(schema)+` CASCADE`)
		pool.Close()
	})

	return pool, schema
}

// SQLite returns a migrated SQLite database in a temp directory.
func SQLite(t *testing.T) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := dbx.OpenSQLite(ctx, filepath.Join(t.TempDir(), "blog.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := migrations.Up(ctx, db, migrations.SQLite); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

func shouldSkip(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host")
}
