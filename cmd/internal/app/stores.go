package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"blogapi/cmd/identity"
	"blogapi/cmd/internal/auth/device"
	"blogapi/cmd/internal/auth/ledger"
	"blogapi/cmd/internal/auth/recovery"
	"blogapi/cmd/internal/dbx"
	"blogapi/cmd/internal/migrations"
)

// Stores holds the persistence backends selected by Config.Store.
type Stores struct {
	Users    identity.Store
	Ledger   ledger.Store
	Devices  device.Store
	Recovery recovery.Store

	pool *pgxpool.Pool
	db   *sql.DB
}

// OpenStores opens the configured backend and, when cfg.AutoMigrate is set, migrates it.
func OpenStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	switch cfg.Store {
	case StorePostgres:
		return openPostgres(ctx, cfg, log)
	case StoreSQLite:
		return openSQLite(ctx, cfg, log)
	default:
		log.Info("db.disabled.inmemory_store")
		return &Stores{
			Users:    identity.NewMemoryStore(),
			Ledger:   ledger.NewMemoryStore(),
			Devices:  device.NewMemoryStore(),
			Recovery: recovery.NewMemoryStore(),
		}, nil
	}
}

func openPostgres(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	st, err := func() (*Stores, error) {
		if cfg.AutoMigrate {
			applied, err := migrations.UpPostgres(ctx, pool, cfg.DBSchema)
			if err != nil {
				return nil, err
			}
			log.Info("db.migrated", "store", "postgres", "schema", cfg.DBSchema, "applied", len(applied))
		}

		users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		led, err := ledger.NewPostgresStore(pool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
		devs, err := device.NewPostgresStore(pool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
		rec, err := recovery.NewPostgresStore(pool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
		return &Stores{Users: users, Ledger: led, Devices: devs, Recovery: rec, pool: pool}, nil
	}()
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, nil
}

func openSQLite(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	db, err := dbx.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	st, err := func() (*Stores, error) {
		if cfg.AutoMigrate {
			applied, err := migrations.Up(ctx, db, migrations.SQLite)
			if err != nil {
				return nil, err
			}
			log.Info("db.migrated", "store", "sqlite", "path", cfg.SQLitePath, "applied", len(applied))
		}

		users, err := identity.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
		led, err := ledger.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
		devs, err := device.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
		rec, err := recovery.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
		return &Stores{Users: users, Ledger: led, Devices: devs, Recovery: rec, db: db}, nil
	}()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
	return st, nil
}

// Ping checks the backing database. In-memory stores are always ready.
func (s *Stores) Ping(ctx context.Context) error {
	switch {
	case s.pool != nil:
		return PingDB(ctx, s.pool, 2*time.Second)
	case s.db != nil:
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.db.PingContext(ctx)
	default:
		return nil
	}
}

// DBEnabled reports whether a database backs the stores.
func (s *Stores) DBEnabled() bool { return s.pool != nil || s.db != nil }

// Close releases the pool or database handle.
func (s *Stores) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
