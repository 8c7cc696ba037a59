package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/apportion"
	"github.com/sells-group/apportion/internal/model"
	"github.com/sells-group/apportion/internal/report"
	"github.com/sells-group/apportion/internal/store"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize census blocks for every area",
	Long: `Intersects each area with its candidate census blocks and totals
population and housing units under every method. With --method all, gt50 or
wtd the chosen totals are written back to the areas.

Areas come from postgis (postgis.areas_table), a GeoJSON file or a shapefile.
Blocks come from postgis (census.blocks), tigerweb, a GeoJSON file or a
shapefile. Areas and blocks must share a meter-based projection.`,
	Example: `  apportion summarize --areas postgis --blocks postgis --method wtd
  apportion summarize --areas service_areas.geojson --blocks tigerweb --method gt50 --out updated.geojson
  apportion summarize --areas zones.shp --blocks tl_2020_44_tabblock20.shp --format xlsx --report zones.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := summarizeFlags(cmd)
		if err != nil {
			return err
		}
		return runSummarize(ctx, opts, cmd.OutOrStdout())
	},
}

type summarizeOptions struct {
	sources     sourceOptions
	method      apportion.Method
	concurrency int
	verbose     bool
	format      report.Format
	reportPath  string
	record      bool
}

func summarizeFlags(cmd *cobra.Command) (summarizeOptions, error) {
	f := cmd.Flags()
	var o summarizeOptions
	o.sources.Areas, _ = f.GetString("areas")
	o.sources.Blocks, _ = f.GetString("blocks")
	o.sources.Out, _ = f.GetString("out")
	o.sources.AreaID, _ = f.GetString("area-id")
	o.sources.BlockID, _ = f.GetString("block-id")
	o.sources.BlockPop, _ = f.GetString("block-pop")
	o.sources.BlockHU, _ = f.GetString("block-hu")
	o.sources.NoCache, _ = f.GetBool("no-cache")

	methodName := cfg.Batch.Method
	if f.Changed("method") {
		methodName, _ = f.GetString("method")
	}
	m, err := apportion.ParseMethod(methodName)
	if err != nil {
		return o, err
	}
	o.method = m

	o.concurrency = cfg.Batch.Concurrency
	if f.Changed("concurrency") {
		o.concurrency, _ = f.GetInt("concurrency")
	}
	o.verbose = cfg.Batch.Verbose
	if f.Changed("verbose") {
		o.verbose, _ = f.GetBool("verbose")
	}

	formatName, _ := f.GetString("format")
	if o.format, err = report.ParseFormat(formatName); err != nil {
		return o, err
	}
	o.reportPath, _ = f.GetString("report")
	noRecord, _ := f.GetBool("no-record")
	o.record = !noRecord
	return o, nil
}

func runSummarize(ctx context.Context, o summarizeOptions, stdout io.Writer) error {
	log := zap.L().With(zap.String("command", "summarize"))

	srcs, err := openSources(ctx, o.sources)
	if err != nil {
		return eris.Wrap(err, "summarize")
	}
	defer srcs.Close()

	var sink apportion.AreaSink
	if o.method != apportion.MethodNone {
		if srcs.sink == nil {
			return eris.Errorf("summarize: areas from %s are read-only; use --method none", o.sources.Areas)
		}
		sink = srcs.sink
	}

	var (
		st  store.Store
		run *model.Run
	)
	if o.record {
		sqlite, err := initStore(ctx)
		if err != nil {
			log.Warn("run history unavailable", zap.Error(err))
		} else {
			defer sqlite.Close() //nolint:errcheck
			st = sqlite
			run, err = st.CreateRun(ctx, o.method.String(), o.sources.Areas+" <- "+o.sources.Blocks)
			if err != nil {
				return eris.Wrap(err, "summarize: record run")
			}
		}
	}

	runner := apportion.NewRunner(srcs.areas, srcs.blocks, sink, apportion.RunOptions{
		Method:      o.method,
		Concurrency: o.concurrency,
		Verbose:     o.verbose,
	})
	res, runErr := runner.Run(ctx)

	var summaries []model.AreaSummary
	if res != nil {
		summaries = report.FromBatch(res.Summaries)
	}

	if runErr == nil && srcs.flush != nil && o.method != apportion.MethodNone {
		if err := srcs.flush(); err != nil {
			runErr = eris.Wrap(err, "summarize: write areas")
		}
	}

	if run != nil {
		// Recording uses a fresh context so an interrupted run is still saved.
		recordRun(context.WithoutCancel(ctx), st, run.ID, summaries, runErr)
		fmt.Fprintf(os.Stderr, "run %s\n", run.ID)
	}

	if res != nil {
		if err := writeReport(stdout, o.format, o.reportPath, summaries); err != nil {
			return err
		}
	}
	if runErr != nil {
		return eris.Wrap(runErr, "summarize")
	}
	return nil
}

func recordRun(ctx context.Context, st store.Store, runID string, summaries []model.AreaSummary, runErr error) {
	log := zap.L().With(zap.String("component", "summarize.record"), zap.String("run", runID))
	withIssues := 0
	for i := range summaries {
		if summaries[i].HasIssues() {
			withIssues++
		}
		if err := st.SaveSummary(ctx, runID, &summaries[i]); err != nil {
			log.Warn("save summary failed", zap.String("area", summaries[i].AreaID), zap.Error(err))
		}
	}
	if err := st.FinishRun(ctx, runID, len(summaries), withIssues, runErr); err != nil {
		log.Warn("finish run failed", zap.Error(err))
	}
}

// writeReport writes summaries to path, or to stdout when path is empty or "-".
func writeReport(stdout io.Writer, format report.Format, path string, summaries []model.AreaSummary) error {
	if path == "" || path == "-" {
		return report.Write(stdout, format, summaries)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "summarize: create report")
	}
	if err := report.Write(f, format, summaries); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "summarize: close report")
}

func init() {
	f := summarizeCmd.Flags()
	f.String("areas", "postgis", "area source: postgis, a .geojson file or a .shp file")
	f.String("blocks", "postgis", "block source: postgis, tigerweb, a .geojson file or a .shp file")
	f.String("method", "none", "summary method written to areas: none, all, gt50 or wtd (default: batch.method)")
	f.Int("concurrency", 0, "areas summarized in parallel (default: batch.concurrency)")
	f.Bool("verbose", false, "log every area at info level")
	f.String("out", "", "where updated GeoJSON areas are written (default: overwrite --areas)")
	f.String("area-id", "", "id property or field of file areas (default: feature id / ID)")
	f.String("block-id", "", "id property or field of file blocks (default: feature id / GEOID20)")
	f.String("block-pop", "", "population property or field of file blocks (default: population / POP20)")
	f.String("block-hu", "", "housing property or field of file blocks (default: housing / HOUSING20)")
	f.Bool("no-cache", false, "bypass the Redis block cache")
	f.String("format", "text", "report format: text, json, yaml or xlsx")
	f.String("report", "", "report file (default: stdout)")
	f.Bool("no-record", false, "do not save the run to the history store")
	rootCmd.AddCommand(summarizeCmd)
}
