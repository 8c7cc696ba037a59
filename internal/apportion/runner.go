package apportion

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// AreaSource yields the areas to summarize, in meter-based planar coordinates.
type AreaSource interface {
	Areas(ctx context.Context) ([]model.Area, error)
}

// BlockSource returns the census blocks intersecting the queried area, in the
// same projection as the areas.
type BlockSource interface {
	Blocks(ctx context.Context, q model.BlockQuery) ([]model.Block, error)
}

// AreaSink persists an area's computed fields and reports per-field results.
type AreaSink interface {
	UpdateArea(ctx context.Context, area model.Area) (*model.UpdateResult, error)
}

// RunOptions configures a batch run.
type RunOptions struct {
	Method      Method
	Concurrency int  // parallel areas (default 4)
	Verbose     bool // log each area at info instead of debug
}

// BatchResult holds one summary per area returned by the AreaSource.
type BatchResult struct {
	Summaries map[string]*model.AreaSummary
	// Issues is set when any summary carries an error or warning.
	Issues bool
}

// Runner drives Summarize over every area from an AreaSource.
type Runner struct {
	areas  AreaSource
	blocks BlockSource
	sink   AreaSink
	opts   RunOptions
}

// NewRunner creates a Runner. sink may be nil when opts.Method is MethodNone.
func NewRunner(areas AreaSource, blocks BlockSource, sink AreaSink, opts RunOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Runner{
		areas:  areas,
		blocks: blocks,
		sink:   sink,
		opts:   opts,
	}
}

// Run summarizes every area. A failing area is reported in its own summary
// and never stops the batch; only an AreaSource failure or context
// cancellation aborts the run.
func (r *Runner) Run(ctx context.Context) (*BatchResult, error) {
	if r.opts.Method != MethodNone && r.sink == nil {
		return nil, eris.Errorf("apportion: method %s requires an area sink", r.opts.Method)
	}

	log := zap.L().With(
		zap.String("component", "apportion.runner"),
		zap.String("method", r.opts.Method.String()),
	)

	areas, err := r.areas.Areas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "apportion: read areas")
	}
	log.Info("areas loaded", zap.Int("count", len(areas)))

	result := &BatchResult{Summaries: make(map[string]*model.AreaSummary, len(areas))}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	start := time.Now()
	for i := range areas {
		area := areas[i]
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			summary := r.processArea(gCtx, &area)

			mu.Lock()
			result.Summaries[area.ID] = summary
			if summary.HasIssues() {
				result.Issues = true
			}
			mu.Unlock()

			r.logArea(log, summary)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, eris.Wrap(err, "apportion: run")
	}

	if result.Issues {
		log.Warn("some areas had issues, check the summaries for details")
	}
	log.Info("run complete",
		zap.Int("areas", len(result.Summaries)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// processArea fetches blocks for one area, summarizes it and hands the
// updated area to the sink. Failures end up on the returned summary.
func (r *Runner) processArea(ctx context.Context, area *model.Area) *model.AreaSummary {
	failed := func(err error) *model.AreaSummary {
		return &model.AreaSummary{AreaID: area.ID, Errors: []string{err.Error()}}
	}

	gctx := geos.NewContext()
	poly, err := geometry.Normalize(gctx, area.Rings, geometry.AreaOptions)
	if err != nil {
		return failed(eris.Wrapf(err, "apportion: normalize area %s", area.ID))
	}

	blocks, err := r.blocks.Blocks(ctx, model.BlockQuery{
		AreaID: area.ID,
		BBox:   poly.Bounds(),
		Rings:  area.Rings,
		WKB:    poly.WKB(),
	})
	if err != nil {
		return failed(eris.Wrapf(err, "apportion: fetch blocks for area %s", area.ID))
	}

	summary, err := Summarize(area, blocks, r.opts.Method, WithGEOSContext(gctx), WithAreaPolygon(poly))
	if err != nil {
		return failed(err)
	}

	if r.opts.Method == MethodNone {
		return summary
	}
	res, err := r.sink.UpdateArea(ctx, *area)
	if err != nil {
		res = model.NewUpdateResult(area.ID, err)
	}
	summary.Update = res
	return summary
}

func (r *Runner) logArea(log *zap.Logger, s *model.AreaSummary) {
	fields := []zap.Field{
		zap.String("area_id", s.AreaID),
		zap.Int("blocks_all", s.BlocksAll),
		zap.Int("blocks_gt50", s.BlocksGT50),
		zap.Int("errors", len(s.Errors)),
		zap.Int("warnings", len(s.Warnings)),
	}
	if r.opts.Verbose {
		log.Info("area summarized", fields...)
		return
	}
	log.Debug("area summarized", fields...)
}
