// Package source adapts PostGIS tables, GeoJSON files, shapefiles and the
// TIGERweb service to the area and block interfaces of the apportion runner.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/apportion"
	"github.com/sells-group/apportion/internal/db"
	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// CensusSRID is the NAD83 geographic system TIGER blocks are stored in.
const CensusSRID = 4269

// PostGISConfig names the tables and projection used by PostGIS.
type PostGISConfig struct {
	AreasTable  string // schema-qualified, e.g. "public.service_areas"
	BlocksTable string // defaults to "census.blocks"
	// SRID is the meter-based equal-area projection areas and blocks are
	// transformed to, e.g. 5070 (CONUS Albers).
	SRID int
	// Filter is a SQL boolean expression selecting areas to summarize.
	Filter string
}

// PostGIS reads areas and census blocks from PostGIS and writes summarized
// fields back to the areas table.
type PostGIS struct {
	pool db.Pool
	cfg  PostGISConfig
}

// NewPostGIS creates a PostGIS source. Missing settings take defaults.
func NewPostGIS(pool db.Pool, cfg PostGISConfig) *PostGIS {
	if cfg.BlocksTable == "" {
		cfg.BlocksTable = "census.blocks"
	}
	if cfg.SRID == 0 {
		cfg.SRID = 5070
	}
	if strings.TrimSpace(cfg.Filter) == "" {
		cfg.Filter = "population IS NULL"
	}
	return &PostGIS{pool: pool, cfg: cfg}
}

// tableIdent splits a possibly schema-qualified table name.
func tableIdent(name string) pgx.Identifier {
	return pgx.Identifier(strings.Split(name, "."))
}

// Areas returns every area matching the configured filter, in cfg.SRID.
func (p *PostGIS) Areas(ctx context.Context) ([]model.Area, error) {
	if p.cfg.AreasTable == "" {
		return nil, eris.New("source: postgis areas table is not configured")
	}
	sql := fmt.Sprintf(`SELECT id::text, population, housing, area_sq_mi, method,
		ST_AsBinary(ST_ForcePolygonCW(ST_Transform(geom, $1)))
		FROM %s WHERE %s ORDER BY id`,
		tableIdent(p.cfg.AreasTable).Sanitize(), p.cfg.Filter)

	rows, err := p.pool.Query(ctx, sql, p.cfg.SRID)
	if err != nil {
		return nil, eris.Wrap(err, "source: query areas")
	}
	defer rows.Close()

	var areas []model.Area
	for rows.Next() {
		var (
			a    model.Area
			data []byte
		)
		if err := rows.Scan(&a.ID, &a.Population, &a.Housing, &a.AreaSqMi, &a.Method, &data); err != nil {
			return nil, eris.Wrap(err, "source: scan area")
		}
		a.Rings, err = decodeRings(data)
		if err != nil {
			return nil, eris.Wrapf(err, "source: decode area %s", a.ID)
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate areas")
	}

	zap.L().Debug("postgis areas loaded",
		zap.String("component", "source.postgis"),
		zap.String("table", p.cfg.AreasTable),
		zap.Int("count", len(areas)),
	)
	return areas, nil
}

// Blocks returns census blocks intersecting the area geometry in q. The
// bounding box lets the GiST index prune candidates before the exact test.
func (p *PostGIS) Blocks(ctx context.Context, q model.BlockQuery) ([]model.Block, error) {
	sql := fmt.Sprintf(`SELECT geoid, pop20, housing20,
		ST_AsBinary(ST_ForcePolygonCW(ST_Transform(geom, $5)))
		FROM %s
		WHERE geom && ST_Transform(ST_MakeEnvelope($1, $2, $3, $4, $5), %d)
		AND ST_Intersects(geom, ST_Transform(ST_GeomFromWKB($6, $5), %d))`,
		tableIdent(p.cfg.BlocksTable).Sanitize(), CensusSRID, CensusSRID)

	rows, err := p.pool.Query(ctx, sql,
		q.BBox.MinX, q.BBox.MinY, q.BBox.MaxX, q.BBox.MaxY, p.cfg.SRID, q.WKB)
	if err != nil {
		return nil, eris.Wrapf(err, "source: query blocks for area %s", q.AreaID)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var (
			b    model.Block
			data []byte
		)
		if err := rows.Scan(&b.ID, &b.Population, &b.Housing, &data); err != nil {
			return nil, eris.Wrap(err, "source: scan block")
		}
		b.Rings, err = decodeRings(data)
		if err != nil {
			return nil, eris.Wrapf(err, "source: decode block %s", b.ID)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate blocks")
	}
	return blocks, nil
}

// UpdateArea writes the summarized fields of area in one statement. The
// result carries one entry per field, all sharing the statement's outcome.
func (p *PostGIS) UpdateArea(ctx context.Context, area model.Area) (*model.UpdateResult, error) {
	if p.cfg.AreasTable == "" {
		return nil, eris.New("source: postgis areas table is not configured")
	}
	sql := fmt.Sprintf(
		"UPDATE %s SET population = $2, housing = $3, area_sq_mi = $4, method = $5 WHERE id::text = $1",
		tableIdent(p.cfg.AreasTable).Sanitize())

	tag, err := p.pool.Exec(ctx, sql, area.ID, area.Population, area.Housing, area.AreaSqMi, area.Method)
	if err != nil {
		return model.NewUpdateResult(area.ID, eris.Wrapf(err, "source: update area %s", area.ID)), nil
	}
	if tag.RowsAffected() == 0 {
		return model.NewUpdateResult(area.ID, eris.Errorf("source: area %s not found", area.ID)), nil
	}
	return model.NewUpdateResult(area.ID, nil), nil
}

func decodeRings(data []byte) ([]model.Ring, error) {
	if len(data) == 0 {
		return nil, eris.New("source: empty geometry")
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "source: unmarshal wkb")
	}
	return geometry.RingsFromGeom(g, false)
}

var (
	_ apportion.AreaSource  = (*PostGIS)(nil)
	_ apportion.BlockSource = (*PostGIS)(nil)
	_ apportion.AreaSink    = (*PostGIS)(nil)
	_ apportion.AreaSource  = (*GeoJSONFile)(nil)
	_ apportion.BlockSource = (*GeoJSONFile)(nil)
	_ apportion.AreaSink    = (*GeoJSONFile)(nil)
	_ apportion.AreaSource  = (*Shapefile)(nil)
	_ apportion.BlockSource = (*Shapefile)(nil)
	_ apportion.BlockSource = (*TIGERweb)(nil)
	_ apportion.BlockSource = (*Cached)(nil)
)
