package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blogapi/cmd/internal/dbx"
)

// PostgresStore implements Store over PostgreSQL. The caller owns the pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore returns a store for the device_sessions table of schema ("" means "blog").
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("device: nil pool")
	}
	schema, err := dbx.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: dbx.PgIdent(schema, "device_sessions")}, nil
}

const pgColumns = `device_id, user_id, ip, title, last_active_at, expires_at, created_at, active`

func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	s = Normalize(s)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.table+` (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, true)`,
		s.DeviceID, s.UserID, s.IP, s.Title, s.LastActiveAt, s.ExpiresAt, s.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, deviceID string) (Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM `+p.table+` WHERE device_id = $1`, deviceID)
	s, err := scanPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) Touch(ctx context.Context, deviceID string, lastActive, expiresAt time.Time) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE `+p.table+` SET last_active_at = $1, expires_at = $2 WHERE device_id = $3 AND active`,
		lastActive.UTC(), expiresAt.UTC(), deviceID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Deactivate(ctx context.Context, deviceID string) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE `+p.table+` SET active = false WHERE device_id = $1 AND active`, deviceID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeactivateAllExcept(ctx context.Context, userID, keep string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`UPDATE `+p.table+` SET active = false
		  WHERE user_id = $1 AND device_id <> $2 AND active
		  RETURNING device_id`,
		userID, keep,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *PostgresStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM `+p.table+`
		  WHERE user_id = $1 AND active AND expires_at > $2
		  ORDER BY created_at, device_id`,
		userID, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM `+p.table)
	return err
}

func scanPg(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.DeviceID, &s.UserID, &s.IP, &s.Title, &s.LastActiveAt, &s.ExpiresAt, &s.CreatedAt, &s.Active)
	if err != nil {
		return Session{}, err
	}
	s.LastActiveAt, s.ExpiresAt, s.CreatedAt = s.LastActiveAt.UTC(), s.ExpiresAt.UTC(), s.CreatedAt.UTC()
	return s, nil
}
