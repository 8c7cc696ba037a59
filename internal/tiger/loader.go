package tiger

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/apportion/internal/db"
)

// LoadOptions configures a block load.
type LoadOptions struct {
	Year        int      // TIGER/Line vintage (default 2020)
	States      []string // abbreviations or FIPS codes; empty = all
	TempDir     string   // download cache (default os temp dir + /tiger)
	Concurrency int      // parallel states (default 3)
	BatchSize   int      // COPY batch size (default db.DefaultBatchSize)
	Incremental bool     // skip states already in load_status
	DryRun      bool     // download and parse without writing
	// BaseURL replaces the Census download host, for mirrors and tests.
	BaseURL string
}

// StatusRow is a row of census.load_status.
type StatusRow struct {
	StateFIPS  string
	StateAbbr  string
	TableName  string
	Year       int
	RowCount   int
	LoadedAt   time.Time
	DurationMs int
}

func (o *LoadOptions) defaults() {
	if o.Year == 0 {
		o.Year = 2020
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.BatchSize <= 0 {
		o.BatchSize = db.DefaultBatchSize
	}
	if o.TempDir == "" {
		o.TempDir = filepath.Join(os.TempDir(), "tiger")
	}
}

// Load downloads, parses and loads TABBLOCK20 blocks for each state. States
// load in parallel; the first failure cancels the rest.
func Load(ctx context.Context, pool db.Pool, opts LoadOptions) error {
	opts.defaults()
	states, err := ResolveStates(opts.States)
	if err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.Int("year", opts.Year),
	)

	if !opts.DryRun {
		if err := Migrate(ctx, pool); err != nil {
			return err
		}
	}

	dl := NewDownloader(opts.TempDir, nil)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, abbr := range states {
		g.Go(func() error {
			return loadState(gCtx, pool, dl, abbr, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("census blocks loaded", zap.Int("states", len(states)))
	return nil
}

func loadState(ctx context.Context, pool db.Pool, dl *Downloader, abbr string, opts LoadOptions) error {
	fips := FIPSCodes[abbr]
	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.String("state", abbr),
	)

	if opts.Incremental && !opts.DryRun {
		loaded, err := isLoaded(ctx, pool, fips, blockTableName, opts.Year)
		if err != nil {
			return err
		}
		if loaded {
			log.Debug("already loaded, skipping")
			return nil
		}
	}

	start := time.Now()
	url := BlockFileURL(opts.Year, fips)
	if opts.BaseURL != "" {
		url = opts.BaseURL + "/" + path.Base(url)
	}
	shpPath, err := dl.Fetch(ctx, url)
	if err != nil {
		return eris.Wrapf(err, "tiger: fetch blocks for %s", abbr)
	}

	rows, skipped, err := ParseBlocks(shpPath)
	if err != nil {
		return eris.Wrapf(err, "tiger: parse blocks for %s", abbr)
	}
	log.Info("shapefile parsed", zap.Int("rows", len(rows)), zap.Int("skipped", skipped))

	if opts.DryRun {
		log.Info("dry run, skipping load", zap.Int("rows", len(rows)))
		return nil
	}

	n, err := ReplaceState(ctx, pool, fips, rows, opts.BatchSize)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	if err := recordLoad(ctx, pool, fips, abbr, blockTableName, opts.Year, int(n), int(duration.Milliseconds())); err != nil {
		log.Warn("failed to record load status", zap.Error(err))
	}

	log.Info("state loaded", zap.Int64("rows", n), zap.Duration("duration", duration))
	return nil
}

func isLoaded(ctx context.Context, pool db.Pool, stateFIPS, tableName string, year int) (bool, error) {
	var count int
	err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM census.load_status WHERE state_fips = $1 AND table_name = $2 AND year = $3",
		stateFIPS, tableName, year,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "tiger: check load status")
	}
	return count > 0, nil
}

func recordLoad(ctx context.Context, pool db.Pool, stateFIPS, stateAbbr, tableName string, year, rowCount, durationMs int) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO census.load_status (state_fips, state_abbr, table_name, year, row_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (state_fips, table_name, year) DO UPDATE SET
			state_abbr = EXCLUDED.state_abbr,
			row_count = EXCLUDED.row_count,
			loaded_at = now(),
			duration_ms = EXCLUDED.duration_ms`,
		stateFIPS, stateAbbr, tableName, year, rowCount, durationMs,
	)
	if err != nil {
		return eris.Wrap(err, "tiger: record load status")
	}
	return nil
}

// LoadStatus returns every row of census.load_status.
func LoadStatus(ctx context.Context, pool db.Pool) ([]StatusRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT state_fips, state_abbr, table_name, year, row_count, loaded_at, COALESCE(duration_ms, 0)
		FROM census.load_status
		ORDER BY state_fips, table_name, year`)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: query load status")
	}
	defer rows.Close()

	var status []StatusRow
	for rows.Next() {
		var sr StatusRow
		if err := rows.Scan(&sr.StateFIPS, &sr.StateAbbr, &sr.TableName, &sr.Year, &sr.RowCount, &sr.LoadedAt, &sr.DurationMs); err != nil {
			return nil, eris.Wrap(err, "tiger: scan load status row")
		}
		status = append(status, sr)
	}
	return status, rows.Err()
}
