package recovery

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

// NewPostgresStore returns a store for the password_recoveries table of schema ("" means "blog").
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("recovery: nil pool")
	}
	schema, err := dbx.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: dbx.PgIdent(schema, "password_recoveries")}, nil
}

const pgColumns = `id, user_id, email, code, expires_at, created_at, used_at, used`

// Replace runs supersede + insert in one transaction. A concurrent Replace for the
// same user trips the partial unique index; the loser retries once and then wins.
func (p *PostgresStore) Replace(ctx context.Context, now time.Time, rec Record) error {
	err := p.replaceOnce(ctx, now, rec)
	if dbx.IsUniqueViolation(err) {
		err = p.replaceOnce(ctx, now, rec)
	}
	return err
}

func (p *PostgresStore) replaceOnce(ctx context.Context, now time.Time, rec Record) error {
	return dbx.WithPgTx(ctx, p.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE `+p.table+` SET used = true, used_at = $1 WHERE user_id = $2 AND NOT used`,
			now.UTC(), rec.UserID,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+p.table+` (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, NULL, false)`,
			rec.ID, rec.UserID, rec.Email, rec.Code, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC(),
		)
		return err
	})
}

func (p *PostgresStore) GetByCode(ctx context.Context, code string) (Record, error) {
	r, err := scanPg(p.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM `+p.table+` WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) Claim(ctx context.Context, code string, now time.Time) (Record, error) {
	r, err := scanPg(p.pool.QueryRow(ctx,
		`UPDATE `+p.table+` SET used = true, used_at = $2
		  WHERE code = $1 AND NOT used AND expires_at > $2
		  RETURNING `+pgColumns,
		code, now.UTC(),
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, err
	}

	cur, err := p.GetByCode(ctx, code)
	if err != nil {
		return Record{}, err
	}
	if err := classify(cur, now); err != nil {
		return Record{}, err
	}
	// Unreachable unless the row changed between the two statements.
	return Record{}, ErrUsed
}

func (p *PostgresStore) Release(ctx context.Context, code string, claimedAt time.Time) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE `+p.table+` AS r SET used = false, used_at = NULL
		  WHERE r.code = $1 AND r.used AND r.used_at = $2
		    AND NOT EXISTS (SELECT 1 FROM `+p.table+` o WHERE o.user_id = r.user_id AND NOT o.used)`,
		code, claimedAt.UTC(),
	)
	if dbx.IsUniqueViolation(err) {
		return ErrUsed
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrUsed
	}
	return nil
}

func (p *PostgresStore) MarkUsed(ctx context.Context, code string, now time.Time) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE `+p.table+` SET used = true, used_at = COALESCE(used_at, $2) WHERE code = $1`,
		code, now.UTC(),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM `+p.table+` WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM `+p.table)
	return err
}

func scanPg(row pgx.Row) (Record, error) {
	var r Record
	if err := row.Scan(&r.ID, &r.UserID, &r.Email, &r.Code, &r.ExpiresAt, &r.CreatedAt, &r.UsedAt, &r.Used); err != nil {
		return Record{}, err
	}
	r.ExpiresAt, r.CreatedAt = r.ExpiresAt.UTC(), r.CreatedAt.UTC()
	if r.UsedAt != nil {
		t := r.UsedAt.UTC()
		r.UsedAt = &t
	}
	return r, nil
}
