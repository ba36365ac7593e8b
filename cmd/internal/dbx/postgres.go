package dbx

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgIdent1 quotes a single identifier.
func PgIdent1(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// SetSearchPath makes schema the first entry of search_path for every
// connection of the pool built from cfg, so unqualified DDL lands there.
func SetSearchPath(cfg *pgxpool.Config, schema string) {
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
}
