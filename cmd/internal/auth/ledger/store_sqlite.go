package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"blogapi/cmd/internal/dbx"
)

// SQLiteStore implements Store over SQLite. The caller owns db.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_ledger (id, user_id, device_id, refresh_hash, access_hash, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, device_id) DO UPDATE
		    SET refresh_hash = excluded.refresh_hash,
		        access_hash  = excluded.access_hash,
		        issued_at    = excluded.issued_at,
		        expires_at   = excluded.expires_at`,
		e.ID, e.UserID, e.DeviceID, e.RefreshHash, e.AccessHash,
		dbx.UnixMilli(e.IssuedAt), dbx.UnixMilli(e.ExpiresAt),
	)
	return err
}

func (s *SQLiteStore) GetByRefreshHash(ctx context.Context, hash string) (Entry, error) {
	var (
		e                 Entry
		issued, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, device_id, refresh_hash, access_hash, issued_at, expires_at
		   FROM token_ledger WHERE refresh_hash = ?`,
		hash,
	).Scan(&e.ID, &e.UserID, &e.DeviceID, &e.RefreshHash, &e.AccessHash, &issued, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.IssuedAt, e.ExpiresAt = dbx.FromUnixMilli(issued), dbx.FromUnixMilli(expiresAt)
	return e, nil
}

func (s *SQLiteStore) Rotate(ctx context.Context, userID, deviceID, oldHash string, next Entry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE token_ledger
		    SET refresh_hash = ?, access_hash = ?, issued_at = ?, expires_at = ?
		  WHERE user_id = ? AND device_id = ? AND refresh_hash = ?`,
		next.RefreshHash, next.AccessHash, dbx.UnixMilli(next.IssuedAt), dbx.UnixMilli(next.ExpiresAt),
		userID, deviceID, oldHash,
	)
	return affectedOne(res, err)
}

func (s *SQLiteStore) RevokeByRefreshHash(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM token_ledger WHERE refresh_hash = ?`, hash)
	return affectedOne(res, err)
}

func (s *SQLiteStore) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM token_ledger WHERE user_id = ? AND device_id = ?`, userID, deviceID)
	return err
}

func (s *SQLiteStore) RevokeAllExcept(ctx context.Context, userID, keepDeviceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM token_ledger WHERE user_id = ? AND device_id <> ?`, userID, keepDeviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM token_ledger`)
	return err
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
