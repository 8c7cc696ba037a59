package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// GeoJSONOptions names the feature properties read and written by GeoJSONFile.
type GeoJSONOptions struct {
	IDProperty         string // default: the feature id
	PopulationProperty string // default "population"
	HousingProperty    string // default "housing"
}

// GeoJSONFile serves areas or blocks from a GeoJSON FeatureCollection in a
// meter-based projection. As an AreaSink it updates feature properties in
// memory; Flush writes the collection back out.
type GeoJSONFile struct {
	path string
	opts GeoJSONOptions

	mu       sync.Mutex
	fc       *geojson.FeatureCollection
	byID     map[string]*geojson.Feature
	features []feature
}

type feature struct {
	id    string
	rings []model.Ring
	props map[string]any
}

// OpenGeoJSON reads and indexes a FeatureCollection. RFC 7946 rings are
// rewound to the clockwise-exterior convention.
func OpenGeoJSON(path string, opts GeoJSONOptions) (*GeoJSONFile, error) {
	if opts.PopulationProperty == "" {
		opts.PopulationProperty = "population"
	}
	if opts.HousingProperty == "" {
		opts.HousingProperty = "housing"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "source: parse geojson %s", path)
	}

	g := &GeoJSONFile{path: path, opts: opts, fc: &fc, byID: make(map[string]*geojson.Feature, len(fc.Features))}
	for i, f := range fc.Features {
		id := featureID(f, opts.IDProperty, i)
		if _, dup := g.byID[id]; dup {
			return nil, eris.Errorf("source: duplicate feature id %q in %s", id, path)
		}
		rings, err := geometry.RingsFromGeom(f.Geometry, true)
		if err != nil {
			return nil, eris.Wrapf(err, "source: feature %s", id)
		}
		if f.Properties == nil {
			f.Properties = map[string]any{}
		}
		g.byID[id] = f
		g.features = append(g.features, feature{id: id, rings: rings, props: f.Properties})
	}
	return g, nil
}

func featureID(f *geojson.Feature, prop string, idx int) string {
	if prop != "" {
		if v, ok := f.Properties[prop]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	if f.ID != "" {
		return f.ID
	}
	return fmt.Sprint(idx)
}

// Areas returns every feature as an area with its current estimate fields.
func (g *GeoJSONFile) Areas(_ context.Context) ([]model.Area, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	areas := make([]model.Area, 0, len(g.features))
	for _, f := range g.features {
		a := model.Area{ID: f.id, Rings: f.rings}
		if v, ok := intProp(f.props, g.opts.PopulationProperty); ok {
			a.Population = &v
		}
		if v, ok := intProp(f.props, g.opts.HousingProperty); ok {
			a.Housing = &v
		}
		switch v := f.props["area_sq_mi"].(type) {
		case float64:
			a.AreaSqMi = &v
		case *float64:
			a.AreaSqMi = v
		}
		switch v := f.props["method"].(type) {
		case string:
			a.Method = &v
		case *string:
			a.Method = v
		}
		areas = append(areas, a)
	}
	return areas, nil
}

// Blocks returns the features intersecting the queried area as census blocks.
func (g *GeoJSONFile) Blocks(_ context.Context, q model.BlockQuery) ([]model.Block, error) {
	g.mu.Lock()
	blocks := make([]model.Block, 0, len(g.features))
	for _, f := range g.features {
		pop, _ := intProp(f.props, g.opts.PopulationProperty)
		hu, _ := intProp(f.props, g.opts.HousingProperty)
		blocks = append(blocks, model.Block{ID: f.id, Rings: f.rings, Population: pop, Housing: hu})
	}
	g.mu.Unlock()
	return intersecting(q, blocks), nil
}

// UpdateArea stores the area's summarized fields on its feature.
func (g *GeoJSONFile) UpdateArea(_ context.Context, area model.Area) (*model.UpdateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.byID[area.ID]
	if !ok {
		return model.NewUpdateResult(area.ID, eris.Errorf("source: feature %s not found", area.ID)), nil
	}
	f.Properties[g.opts.PopulationProperty] = area.Population
	f.Properties[g.opts.HousingProperty] = area.Housing
	f.Properties["area_sq_mi"] = area.AreaSqMi
	f.Properties["method"] = area.Method
	return model.NewUpdateResult(area.ID, nil), nil
}

// Flush writes the collection, including any updates, to path. An empty
// path overwrites the file it was read from.
func (g *GeoJSONFile) Flush(path string) error {
	if path == "" {
		path = g.path
	}
	g.mu.Lock()
	data, err := json.MarshalIndent(g.fc, "", "  ")
	g.mu.Unlock()
	if err != nil {
		return eris.Wrap(err, "source: encode geojson")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "source: write %s", path)
	}
	return nil
}

// intProp reads a numeric property. JSON numbers decode as float64; values
// already set by UpdateArea are *int64.
func intProp(props map[string]any, key string) (int64, bool) {
	switch v := props[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case *int64:
		if v != nil {
			return *v, true
		}
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}
