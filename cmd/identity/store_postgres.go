package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blogapi/cmd/internal/dbx"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Table identifiers are schema-qualified and safely quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "blog").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !dbx.ValidSchema(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: dbx.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const pgUserColumns = `id, login, email, email_norm, password_hash, created_at, updated_at`

func (s *PostgresStore) users() string { return dbx.PgIdent(s.schema, "users") }

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	u, err := prepareUser(op, in)
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.users()+` (`+pgUserColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID, u.Login, u.Email, u.EmailNorm, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: classifyConflict(dbx.ConstraintName(err))}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetByID", `id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) GetByLoginOrEmail(ctx context.Context, loginOrEmail string) (User, error) {
	// A login match wins over an email match when both exist.
	return s.getOne(ctx, "identity.GetByLoginOrEmail",
		`login = $1 OR email_norm = $2 ORDER BY (login = $1) DESC LIMIT 1`,
		NormalizeLogin(loginOrEmail), NormalizeEmail(loginOrEmail))
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, "identity.GetByEmail", `email_norm = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) getOne(ctx context.Context, op, where string, args ...any) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+s.users()+` WHERE `+where, args...,
	).Scan(&u.ID, &u.Login, &u.Email, &u.EmailNorm, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, now, userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.users()); err != nil {
		return fmt.Errorf("identity.DeleteAll: %w", err)
	}
	return nil
}
