package main

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/apportion/internal/db"
	"github.com/sells-group/apportion/internal/store"
)

// postgisPool connects to the configured PostGIS database.
func postgisPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.PostGIS.DatabaseURL == "" {
		return nil, eris.New("postgis.database_url is not set (APPORTION_POSTGIS_DATABASE_URL)")
	}
	return db.Connect(ctx, cfg.PostGIS.DatabaseURL, cfg.PostGIS.MaxConns)
}

// initStore opens and migrates the run history database.
func initStore(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// splitAndTrim splits a comma-separated list, dropping blanks.
func splitAndTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
