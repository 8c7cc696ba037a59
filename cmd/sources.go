package main

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/apportion"
	"github.com/sells-group/apportion/internal/source"
	"github.com/sells-group/apportion/pkg/tigerweb"
)

type sourceKind string

const (
	kindPostGIS   sourceKind = "postgis"
	kindTIGERweb  sourceKind = "tigerweb"
	kindGeoJSON   sourceKind = "geojson"
	kindShapefile sourceKind = "shapefile"
)

// classifySource maps a --areas or --blocks value to a source kind: the
// names postgis and tigerweb, or a file path by extension.
func classifySource(value string) (sourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgis":
		return kindPostGIS, nil
	case "tigerweb":
		return kindTIGERweb, nil
	case "":
		return "", eris.New("source is empty")
	}
	switch strings.ToLower(filepath.Ext(value)) {
	case ".geojson", ".json":
		return kindGeoJSON, nil
	case ".shp":
		return kindShapefile, nil
	}
	return "", eris.Errorf("unrecognized source %q (want postgis, tigerweb, a .geojson or a .shp file)", value)
}

// sourceOptions are the summarize flags that pick and shape sources.
type sourceOptions struct {
	Areas  string
	Blocks string
	Out    string // where updated GeoJSON areas are written (default: in place)

	AreaID string // id property or field of file areas

	BlockID  string
	BlockPop string
	BlockHU  string

	NoCache bool
}

// sources bundles what a batch run reads from and writes to.
type sources struct {
	areas  apportion.AreaSource
	blocks apportion.BlockSource
	sink   apportion.AreaSink // nil when areas are read-only
	flush  func() error

	pool    *pgxpool.Pool
	closers []func() error
}

func (s *sources) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			zap.L().Warn("close source", zap.Error(err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *sources) postgis(ctx context.Context) (*source.PostGIS, error) {
	if s.pool == nil {
		pool, err := postgisPool(ctx)
		if err != nil {
			return nil, err
		}
		s.pool = pool
	}
	return source.NewPostGIS(s.pool, source.PostGISConfig{
		AreasTable:  cfg.PostGIS.AreasTable,
		BlocksTable: cfg.PostGIS.BlocksTable,
		SRID:        cfg.PostGIS.SRID,
		Filter:      cfg.PostGIS.Filter,
	}), nil
}

// tigerwebWKID is the projection TIGERweb is asked to read area rings in and
// return blocks in. PostGIS areas are transformed to postgis.srid, so the
// service must use the same one; file areas are taken to be in tigerweb.wkid.
func tigerwebWKID(areaKind sourceKind) int {
	if areaKind == kindPostGIS {
		return cfg.PostGIS.SRID
	}
	return cfg.TIGERweb.WKID
}

func newTIGERwebSource(areaKind sourceKind) *source.TIGERweb {
	client := tigerweb.NewClient(
		tigerweb.WithBaseURL(cfg.TIGERweb.BaseURL),
		tigerweb.WithRateLimit(cfg.TIGERweb.RateLimit),
		tigerweb.WithPageSize(cfg.TIGERweb.PageSize),
		tigerweb.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TIGERweb.TimeoutSecs) * time.Second}),
	)
	wkid := tigerwebWKID(areaKind)
	if wkid != cfg.TIGERweb.WKID {
		zap.L().Debug("tigerweb follows the area projection",
			zap.Int("wkid", wkid), zap.Int("configured_wkid", cfg.TIGERweb.WKID))
	}
	return source.NewTIGERweb(client, wkid)
}

// openSources builds the area source, block source and, where the areas
// can be written, the area sink.
func openSources(ctx context.Context, opts sourceOptions) (_ *sources, err error) {
	areaKind, err := classifySource(opts.Areas)
	if err != nil {
		return nil, eris.Wrap(err, "areas")
	}
	blockKind, err := classifySource(opts.Blocks)
	if err != nil {
		return nil, eris.Wrap(err, "blocks")
	}

	s := &sources{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	switch areaKind {
	case kindPostGIS:
		if cfg.PostGIS.AreasTable == "" {
			return nil, eris.New("postgis.areas_table is not set")
		}
		p, err := s.postgis(ctx)
		if err != nil {
			return nil, err
		}
		s.areas, s.sink = p, p
	case kindGeoJSON:
		g, err := source.OpenGeoJSON(opts.Areas, source.GeoJSONOptions{IDProperty: opts.AreaID})
		if err != nil {
			return nil, err
		}
		out := opts.Out
		if out == "" {
			out = opts.Areas
		}
		s.areas, s.sink = g, g
		s.flush = func() error { return g.Flush(out) }
	case kindShapefile:
		idField := opts.AreaID
		if idField == "" {
			idField = "ID"
		}
		shp, err := source.OpenShapefile(opts.Areas, source.ShapefileOptions{IDField: idField})
		if err != nil {
			return nil, err
		}
		s.areas = shp
	default:
		return nil, eris.Errorf("areas cannot be read from %s", areaKind)
	}

	var blocks apportion.BlockSource
	switch blockKind {
	case kindPostGIS:
		p, err := s.postgis(ctx)
		if err != nil {
			return nil, err
		}
		blocks = p
	case kindTIGERweb:
		blocks = newTIGERwebSource(areaKind)
	case kindGeoJSON:
		g, err := source.OpenGeoJSON(opts.Blocks, source.GeoJSONOptions{
			IDProperty:         opts.BlockID,
			PopulationProperty: opts.BlockPop,
			HousingProperty:    opts.BlockHU,
		})
		if err != nil {
			return nil, err
		}
		blocks = g
	case kindShapefile:
		shp, err := source.OpenShapefile(opts.Blocks, source.ShapefileOptions{
			IDField:         opts.BlockID,
			PopulationField: opts.BlockPop,
			HousingField:    opts.BlockHU,
		})
		if err != nil {
			return nil, err
		}
		blocks = shp
	}

	if cfg.Cache.RedisAddr != "" && !opts.NoCache && blockKind != kindGeoJSON && blockKind != kindShapefile {
		rc, err := source.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			zap.L().Warn("block cache unavailable, continuing without it", zap.Error(err))
		} else {
			s.closers = append(s.closers, rc.Close)
			ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
			blocks = source.NewCached(blocks, rc, ttl, "apportion:"+string(blockKind)+":")
		}
	}
	s.blocks = blocks

	return s, nil
}
