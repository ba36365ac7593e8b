package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
		return nil, fmt.Errorf("recovery: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteColumns = `id, user_id, email, code, expires_at, created_at, used_at, used`

func (q *SQLiteStore) Replace(ctx context.Context, now time.Time, rec Record) error {
	err := q.replaceOnce(ctx, now, rec)
	if dbx.IsUniqueViolation(err) {
		err = q.replaceOnce(ctx, now, rec)
	}
	return err
}

func (q *SQLiteStore) replaceOnce(ctx context.Context, now time.Time, rec Record) error {
	return dbx.WithTx(ctx, q.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE password_recoveries SET used = 1, used_at = ? WHERE user_id = ? AND used = 0`,
			dbx.UnixMilli(now), rec.UserID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO password_recoveries (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, 0)`,
			rec.ID, rec.UserID, rec.Email, rec.Code, dbx.UnixMilli(rec.ExpiresAt), dbx.UnixMilli(rec.CreatedAt),
		)
		return err
	})
}

func (q *SQLiteStore) GetByCode(ctx context.Context, code string) (Record, error) {
	r, err := scanSQLite(q.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM password_recoveries WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (q *SQLiteStore) Claim(ctx context.Context, code string, now time.Time) (Record, error) {
	r, err := scanSQLite(q.db.QueryRowContext(ctx,
		`UPDATE password_recoveries SET used = 1, used_at = ?
		  WHERE code = ? AND used = 0 AND expires_at > ?
		  RETURNING `+sqliteColumns,
		dbx.UnixMilli(now), code, dbx.UnixMilli(now),
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}

	cur, err := q.GetByCode(ctx, code)
	if err != nil {
		return Record{}, err
	}
	if err := classify(cur, now); err != nil {
		return Record{}, err
	}
	return Record{}, ErrUsed
}

func (q *SQLiteStore) Release(ctx context.Context, code string, claimedAt time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE password_recoveries SET used = 0, used_at = NULL
		  WHERE code = ? AND used = 1 AND used_at = ?
		    AND NOT EXISTS (
		      SELECT 1 FROM password_recoveries o
		       WHERE o.user_id = password_recoveries.user_id AND o.used = 0)`,
		code, dbx.UnixMilli(claimedAt),
	)
	if dbx.IsUniqueViolation(err) {
		return ErrUsed
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUsed
	}
	return nil
}

func (q *SQLiteStore) MarkUsed(ctx context.Context, code string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE password_recoveries SET used = 1, used_at = COALESCE(used_at, ?) WHERE code = ?`,
		dbx.UnixMilli(now), code,
	)
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

func (q *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM password_recoveries WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM password_recoveries`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (Record, error) {
	var (
		r            Record
		exp, created int64
		usedAt       sql.NullInt64
		used         int
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Email, &r.Code, &exp, &created, &usedAt, &used); err != nil {
		return Record{}, err
	}
	r.ExpiresAt = dbx.FromUnixMilli(exp)
	r.CreatedAt = dbx.FromUnixMilli(created)
	r.UsedAt = dbx.FromNullUnixMilli(usedAt)
	r.Used = used == 1
	return r, nil
}
