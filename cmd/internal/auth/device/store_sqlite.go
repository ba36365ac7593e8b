package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"blogapi/cmd/internal/dbx"
)

// SQLiteStore implements Store over SQLite. The caller owns db.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("device: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteColumns = `device_id, user_id, ip, title, last_active_at, expires_at, created_at, active`

func (q *SQLiteStore) Create(ctx context.Context, s Session) error {
	s = Normalize(s)
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO device_sessions (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		s.DeviceID, s.UserID, s.IP, s.Title,
		dbx.UnixMilli(s.LastActiveAt), dbx.UnixMilli(s.ExpiresAt), dbx.UnixMilli(s.CreatedAt),
	)
	return err
}

func (q *SQLiteStore) Get(ctx context.Context, deviceID string) (Session, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM device_sessions WHERE device_id = ?`, deviceID)
	s, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (q *SQLiteStore) Touch(ctx context.Context, deviceID string, lastActive, expiresAt time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE device_sessions SET last_active_at = ?, expires_at = ? WHERE device_id = ? AND active = 1`,
		dbx.UnixMilli(lastActive), dbx.UnixMilli(expiresAt), deviceID,
	)
	return affectedOne(res, err)
}

func (q *SQLiteStore) Deactivate(ctx context.Context, deviceID string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE device_sessions SET active = 0 WHERE device_id = ? AND active = 1`, deviceID)
	return affectedOne(res, err)
}

func (q *SQLiteStore) DeactivateAllExcept(ctx context.Context, userID, keep string) ([]string, error) {
	var out []string
	err := dbx.WithTx(ctx, q.db, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := tx.QueryContext(ctx,
			`UPDATE device_sessions SET active = 0
			  WHERE user_id = ? AND device_id <> ? AND active = 1
			  RETURNING device_id`,
			userID, keep,
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *SQLiteStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM device_sessions
		  WHERE user_id = ? AND active = 1 AND expires_at > ?
		  ORDER BY created_at, device_id`,
		userID, dbx.UnixMilli(now),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		s, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM device_sessions`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (Session, error) {
	var (
		s                          Session
		lastActive, exp, createdAt int64
		active                     int
	)
	if err := row.Scan(&s.DeviceID, &s.UserID, &s.IP, &s.Title, &lastActive, &exp, &createdAt, &active); err != nil {
		return Session{}, err
	}
	s.LastActiveAt = dbx.FromUnixMilli(lastActive)
	s.ExpiresAt = dbx.FromUnixMilli(exp)
	s.CreatedAt = dbx.FromUnixMilli(createdAt)
	s.Active = active == 1
	s.IP = strings.TrimSpace(s.IP)
	return s, nil
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
