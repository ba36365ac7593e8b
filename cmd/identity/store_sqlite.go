package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"blogapi/cmd/internal/dbx"
)

// SQLiteStore implements Store over a SQLite database opened with dbx.OpenSQLite.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db. The caller owns db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteUserColumns = `id, login, email, email_norm, password_hash, created_at, updated_at`

func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	u, err := prepareUser(op, in)
	if err != nil {
		return User{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (`+sqliteUserColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Login, u.Email, u.EmailNorm, u.PasswordHash,
		dbx.UnixMilli(u.CreatedAt), dbx.UnixMilli(u.UpdatedAt),
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			// SQLite reports "UNIQUE constraint failed: users.email_norm".
			return User{}, ConflictError{Op: op, Field: classifyConflict(dbx.ConstraintName(err))}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	// Match the millisecond precision of what was stored.
	u.CreatedAt = dbx.FromUnixMilli(dbx.UnixMilli(u.CreatedAt))
	u.UpdatedAt = u.CreatedAt
	return u, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetByID", `id = ?`, strings.TrimSpace(id))
}

func (s *SQLiteStore) GetByLoginOrEmail(ctx context.Context, loginOrEmail string) (User, error) {
	login := NormalizeLogin(loginOrEmail)
	return s.getOne(ctx, "identity.GetByLoginOrEmail",
		`login = ? OR email_norm = ? ORDER BY (login = ?) DESC LIMIT 1`,
		login, NormalizeEmail(loginOrEmail), login)
}

func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, "identity.GetByEmail", `email_norm = ?`, NormalizeEmail(email))
}

func (s *SQLiteStore) getOne(ctx context.Context, op, where string, args ...any) (User, error) {
	var (
		u                  User
		created, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE `+where, args...,
	).Scan(&u.ID, &u.Login, &u.Email, &u.EmailNorm, &u.PasswordHash, &created, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = dbx.FromUnixMilli(created)
	u.UpdatedAt = dbx.FromUnixMilli(updatedAt)
	return u, nil
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, dbx.UnixMilli(now), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return notFound(op)
	}
	return nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("identity.DeleteAll: %w", err)
	}
	return nil
}
