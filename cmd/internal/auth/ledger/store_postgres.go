package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blogapi/cmd/internal/dbx"
)

// PostgresStore implements Store over PostgreSQL. The caller owns the pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore returns a store for the token_ledger table of schema ("" means "blog").
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("ledger: nil pool")
	}
	schema, err := dbx.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: dbx.PgIdent(schema, "token_ledger")}, nil
}

func (s *PostgresStore) Put(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, user_id, device_id, refresh_hash, access_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, device_id) DO UPDATE
		    SET refresh_hash = EXCLUDED.refresh_hash,
		        access_hash  = EXCLUDED.access_hash,
		        issued_at    = EXCLUDED.issued_at,
		        expires_at   = EXCLUDED.expires_at`,
		e.ID, e.UserID, e.DeviceID, e.RefreshHash, e.AccessHash, e.IssuedAt, e.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetByRefreshHash(ctx context.Context, hash string) (Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, device_id, refresh_hash, access_hash, issued_at, expires_at
		   FROM `+s.table+`
		  WHERE refresh_hash = $1`,
		hash,
	).Scan(&e.ID, &e.UserID, &e.DeviceID, &e.RefreshHash, &e.AccessHash, &e.IssuedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.IssuedAt, e.ExpiresAt = e.IssuedAt.UTC(), e.ExpiresAt.UTC()
	return e, nil
}

// Rotate is a single conditional UPDATE; a concurrent loser sees zero rows.
func (s *PostgresStore) Rotate(ctx context.Context, userID, deviceID, oldHash string, next Entry) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+`
		    SET refresh_hash = $1,
		        access_hash  = $2,
		        issued_at    = $3,
		        expires_at   = $4
		  WHERE user_id = $5
		    AND device_id = $6
		    AND refresh_hash = $7`,
		next.RefreshHash, next.AccessHash, next.IssuedAt, next.ExpiresAt, userID, deviceID, oldHash,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RevokeByRefreshHash(ctx context.Context, hash string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE refresh_hash = $1`, hash)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	return err
}

func (s *PostgresStore) RevokeAllExcept(ctx context.Context, userID, keepDeviceID string) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE user_id = $1 AND device_id <> $2`, userID, keepDeviceID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table)
	return err
}
