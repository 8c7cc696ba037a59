package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// ShapefileOptions names the attribute fields of a shapefile. Defaults are
// the TIGER/Line 2020 block fields.
type ShapefileOptions struct {
	IDField         string // default "GEOID20"
	PopulationField string // default "POP20"
	HousingField    string // default "HOUSING20"
}

// Shapefile is an in-memory AreaSource and BlockSource read from a polygon
// shapefile in a meter-based projection.
type Shapefile struct {
	records []shapeRecord
}

type shapeRecord struct {
	id    string
	rings []model.Ring
	bbox  model.BBox
	pop   *int64
	hu    *int64
}

// OpenShapefile reads every polygon record of shpPath. Records without a
// readable polygon are skipped and logged.
func OpenShapefile(shpPath string, opts ShapefileOptions) (*Shapefile, error) {
	if opts.IDField == "" {
		opts.IDField = "GEOID20"
	}
	if opts.PopulationField == "" {
		opts.PopulationField = "POP20"
	}
	if opts.HousingField == "" {
		opts.HousingField = "HOUSING20"
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		fieldIdx[strings.ToLower(strings.TrimRight(f.String(), "\x00"))] = i
	}
	attr := func(name string) (string, bool) {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return "", false
		}
		v := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
		return v, v != ""
	}
	intAttr := func(name string) *int64 {
		v, ok := attr(name)
		if !ok {
			return nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		i := int64(n)
		return &i
	}

	s := &Shapefile{}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		rings, err := geometry.RingsFromShape(shape)
		if err != nil {
			skipped++
			continue
		}
		id, ok := attr(opts.IDField)
		if !ok {
			id = strconv.Itoa(n)
		}
		s.records = append(s.records, shapeRecord{
			id:    id,
			rings: rings,
			bbox:  model.RingsBBox(rings),
			pop:   intAttr(opts.PopulationField),
			hu:    intAttr(opts.HousingField),
		})
	}

	if skipped > 0 {
		zap.L().Debug("source: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return s, nil
}

// Len returns the number of polygon records read.
func (s *Shapefile) Len() int { return len(s.records) }

// Areas returns every record as an area.
func (s *Shapefile) Areas(_ context.Context) ([]model.Area, error) {
	areas := make([]model.Area, 0, len(s.records))
	for _, r := range s.records {
		areas = append(areas, model.Area{ID: r.id, Rings: r.rings, Population: r.pop, Housing: r.hu})
	}
	return areas, nil
}

// Blocks returns the records intersecting the queried area. Missing counts
// are read as zero.
func (s *Shapefile) Blocks(_ context.Context, q model.BlockQuery) ([]model.Block, error) {
	var blocks []model.Block
	for _, r := range s.records {
		if !r.bbox.Intersects(q.BBox) {
			continue
		}
		b := model.Block{ID: r.id, Rings: r.rings}
		if r.pop != nil {
			b.Population = *r.pop
		}
		if r.hu != nil {
			b.Housing = *r.hu
		}
		blocks = append(blocks, b)
	}
	return intersecting(q, blocks), nil
}
