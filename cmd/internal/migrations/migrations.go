// Package migrations embeds the SQL schema for the Postgres and SQLite stores
// and applies it with goose.
//
// Postgres migrations are written without a schema prefix; they land in the
// first schema of the connection's search_path (see dbx.SetSearchPath).
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"blogapi/cmd/internal/dbx"
)

//go:embed postgres/*.sql sqlite/*.sql
var embedded embed.FS

// Dialect selects the migration set.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Up applies all pending migrations for dialect and returns the applied versions.
func Up(ctx context.Context, db *sql.DB, d Dialect) ([]int64, error) {
	p, err := newProvider(db, d)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: up (%s): %w", d, err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// Version reports the current schema version.
func Version(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	p, err := newProvider(db, d)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}

// UpPostgres creates schema if needed and migrates it through the pool.
// The pool's search_path must start with schema.
func UpPostgres(ctx context.Context, pool *pgxpool.Pool, schema string) ([]int64, error) {
	schema, err := dbx.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+dbx.PgIdent1(schema)); err != nil {
		return nil, fmt.Errorf("migrations: create schema: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	return Up(ctx, db, Postgres)
}

func newProvider(db *sql.DB, d Dialect) (*goose.Provider, error) {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch d {
	case Postgres:
		dialect, dir = goose.DialectPostgres, "postgres"
	case SQLite:
		dialect, dir = goose.DialectSQLite3, "sqlite"
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", d)
	}

	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migrations: provider: %w", err)
	}
	return p, nil
}
