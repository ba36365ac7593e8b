// Package dbx holds the small storage helpers shared by the Postgres and SQLite stores:
// a DBTX interface implemented by *sql.DB and *sql.Tx, transaction helpers,
// identifier quoting, unique-violation detection and time encoding.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "blog"

// DBTX is the subset of database/sql used by the SQLite stores.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// WithPgTx is WithTx for a pgx pool (read committed, read-write).
func WithPgTx(ctx context.Context, pool interface {
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(ctx, tx)
	return err
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether s is a legal, unquoted PostgreSQL identifier.
func ValidSchema(s string) bool {
	return pgIdentRe.MatchString(s)
}

// CheckSchema trims schema and validates it, falling back to DefaultSchema when empty.
func CheckSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return DefaultSchema, nil
	}
	if !ValidSchema(schema) {
		return "", fmt.Errorf("dbx: invalid schema identifier %q", schema)
	}
	return schema, nil
}

// PgIdent safely quotes a schema-qualified identifier: "schema"."name".
func PgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// from either Postgres (SQLSTATE 23505) or SQLite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// ConstraintName returns the violated Postgres constraint, or "" when unknown.
// SQLite does not report constraint names; callers fall back to message matching.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	}
	if err != nil {
		return strings.ToLower(err.Error())
	}
	return ""
}

// UnixMilli encodes t for INTEGER columns in SQLite. The zero time maps to 0.
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// FromUnixMilli decodes an INTEGER column written by UnixMilli.
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// NullUnixMilli encodes an optional timestamp.
func NullUnixMilli(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

// FromNullUnixMilli decodes an optional timestamp written by NullUnixMilli.
func FromNullUnixMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
