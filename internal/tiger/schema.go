package tiger

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/db"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"postgis", `CREATE EXTENSION IF NOT EXISTS postgis`},
	{"schema", `CREATE SCHEMA IF NOT EXISTS census`},
	{"blocks", `CREATE TABLE IF NOT EXISTS census.blocks (
		geoid     text PRIMARY KEY,
		statefp   text NOT NULL,
		countyfp  text,
		tractce   text,
		blockce   text,
		aland     bigint NOT NULL DEFAULT 0,
		awater    bigint NOT NULL DEFAULT 0,
		pop20     bigint NOT NULL DEFAULT 0,
		housing20 bigint NOT NULL DEFAULT 0,
		geom      geometry(MultiPolygon, 4269) NOT NULL
	)`},
	{"blocks_statefp", `CREATE INDEX IF NOT EXISTS idx_blocks_statefp ON census.blocks (statefp)`},
	{"blocks_geom", `CREATE INDEX IF NOT EXISTS idx_blocks_geom ON census.blocks USING GIST (geom)`},
	{"load_status", `CREATE TABLE IF NOT EXISTS census.load_status (
		state_fips  text NOT NULL,
		state_abbr  text NOT NULL,
		table_name  text NOT NULL,
		year        integer NOT NULL,
		row_count   integer NOT NULL,
		loaded_at   timestamptz NOT NULL DEFAULT now(),
		duration_ms integer,
		PRIMARY KEY (state_fips, table_name, year)
	)`},
}

// Migrate creates the census schema, the blocks table with its spatial
// index, and the load status table. It is safe to run repeatedly.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "tiger.schema"))
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "tiger: migrate %s", m.name)
		}
		log.Debug("migration applied", zap.String("name", m.name))
	}
	return nil
}
