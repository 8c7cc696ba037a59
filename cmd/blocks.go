package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/db"
	"github.com/sells-group/apportion/internal/tiger"
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Manage the census.blocks table in PostGIS",
}

var blocksLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load TIGER/Line 2020 block shapefiles into census.blocks",
	Long: `Downloads tl_<year>_<fips>_tabblock20.zip for each state, parses block ids,
population, housing units and geometry, and replaces the state's rows in
census.blocks. Loaded states are recorded in census.load_status.

By default loads all 50 states, DC and Puerto Rico. Use --states to restrict
to specific states (abbreviations or FIPS codes).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		statesStr, _ := f.GetString("states")
		year, _ := f.GetInt("year")
		concurrency, _ := f.GetInt("concurrency")
		incremental, _ := f.GetBool("incremental")
		dryRun, _ := f.GetBool("dry-run")

		opts := tiger.LoadOptions{
			Year:        year,
			TempDir:     cfg.Tiger.TempDir,
			Concurrency: concurrency,
			BatchSize:   cfg.Tiger.BatchSize,
			Incremental: incremental,
			DryRun:      dryRun,
		}
		if statesStr != "" {
			opts.States = splitAndTrim(statesStr)
		} else {
			opts.States = cfg.Tiger.States
		}
		// Use config values as defaults.
		if opts.Year == 0 {
			opts.Year = cfg.Tiger.Year
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = cfg.Tiger.Concurrency
		}

		var pool db.Pool
		if !dryRun {
			p, err := postgisPool(ctx)
			if err != nil {
				return err
			}
			defer p.Close()
			pool = p
		}

		zap.L().Info("starting census block load",
			zap.String("command", "blocks load"),
			zap.Int("year", opts.Year),
			zap.Strings("states", opts.States),
			zap.Bool("incremental", opts.Incremental),
			zap.Bool("dry_run", opts.DryRun),
			zap.Int("concurrency", opts.Concurrency),
		)

		if err := tiger.Load(ctx, pool, opts); err != nil {
			return eris.Wrap(err, "blocks load")
		}

		fmt.Fprintln(cmd.OutOrStdout(), "census block load complete")
		return nil
	},
}

var blocksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which states are loaded",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		pool, err := postgisPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		return printBlockStatus(ctx, cmd.OutOrStdout(), pool)
	},
}

var blocksMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the census schema, blocks table and indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		pool, err := postgisPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := tiger.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "blocks migrate")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "census schema is up to date")
		return nil
	},
}

func init() {
	f := blocksLoadCmd.Flags()
	f.String("states", "", "comma-separated state abbreviations or FIPS codes (default: tiger.states or all)")
	f.Int("year", 0, "TIGER/Line year, 2020 or later (default: tiger.year)")
	f.Bool("incremental", true, "skip states already recorded in census.load_status")
	f.Bool("dry-run", false, "download and parse without loading")
	f.Int("concurrency", 0, "parallel state loads (default: tiger.concurrency)")

	blocksCmd.AddCommand(blocksLoadCmd, blocksStatusCmd, blocksMigrateCmd)
	rootCmd.AddCommand(blocksCmd)
}

// printBlockStatus displays census.load_status as a table.
func printBlockStatus(ctx context.Context, out io.Writer, pool db.Pool) error {
	status, err := tiger.LoadStatus(ctx, pool)
	if err != nil {
		return eris.Wrap(err, "blocks status")
	}

	if len(status) == 0 {
		fmt.Fprintln(out, "No census blocks loaded yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIPS\tSTATE\tTABLE\tYEAR\tROWS\tDURATION\tLOADED AT")
	for _, s := range status {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%dms\t%s\n",
			s.StateFIPS, s.StateAbbr, s.TableName, s.Year,
			s.RowCount, s.DurationMs, s.LoadedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
