package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// Counter-clockwise exteriors, as RFC 7946 requires.
const areasGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "north",
     "properties": {"name": "North"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2000,0],[2000,2000],[0,2000],[0,0]]]}},
    {"type": "Feature", "id": "south",
     "properties": {"name": "South", "population": 90, "housing": 40, "method": "all", "area_sq_mi": 0.5},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,-1000],[1000,-1000],[1000,-500],[0,-500],[0,-1000]]]]}}
  ]
}`

const blocksGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"GEOID20": "b1", "POP20": 100, "HOUSING20": 40},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1000,0],[1000,2000],[0,2000],[0,0]]]}},
    {"type": "Feature", "properties": {"GEOID20": "b2", "POP20": 50, "HOUSING20": 20},
     "geometry": {"type": "Polygon", "coordinates": [[[1000,0],[2000,0],[2000,2000],[1000,2000],[1000,0]]]}},
    {"type": "Feature", "properties": {"GEOID20": "corner", "POP20": 9, "HOUSING20": 9},
     "geometry": {"type": "Polygon", "coordinates": [[[2100,2100],[3000,2100],[3000,3000],[2100,3000],[2100,2100]]]}}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGeoJSON_Areas(t *testing.T) {
	g, err := OpenGeoJSON(writeFile(t, "areas.geojson", areasGeoJSON), GeoJSONOptions{})
	require.NoError(t, err)

	areas, err := g.Areas(context.Background())
	require.NoError(t, err)
	require.Len(t, areas, 2)

	assert.Equal(t, "north", areas[0].ID)
	assert.Nil(t, areas[0].Population)
	require.Len(t, areas[0].Rings, 1)
	assert.True(t, geometry.IsExterior(areas[0].Rings[0]), "exterior rewound clockwise")

	south := areas[1]
	require.NotNil(t, south.Population)
	assert.Equal(t, int64(90), *south.Population)
	assert.Equal(t, int64(40), *south.Housing)
	assert.Equal(t, "all", *south.Method)
	assert.InDelta(t, 0.5, *south.AreaSqMi, 1e-12)
}

func TestGeoJSON_Blocks(t *testing.T) {
	g, err := OpenGeoJSON(writeFile(t, "blocks.geojson", blocksGeoJSON), GeoJSONOptions{
		IDProperty:         "GEOID20",
		PopulationProperty: "POP20",
		HousingProperty:    "HOUSING20",
	})
	require.NoError(t, err)

	q := model.BlockQuery{AreaID: "a", BBox: model.BBox{MinX: 0, MinY: 0, MaxX: 2500, MaxY: 2500}}
	blocks, err := g.Blocks(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, blocks, 3)

	q.BBox = model.BBox{MinX: 0, MinY: 0, MaxX: 999, MaxY: 999}
	blocks, err = g.Blocks(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "b1", blocks[0].ID)
	assert.Equal(t, int64(100), blocks[0].Population)
	assert.Equal(t, int64(40), blocks[0].Housing)
}

func TestGeoJSON_BlocksExactFilter(t *testing.T) {
	g, err := OpenGeoJSON(writeFile(t, "blocks.geojson", blocksGeoJSON), GeoJSONOptions{IDProperty: "GEOID20"})
	require.NoError(t, err)

	area, err := geometry.Normalize(geos.NewContext(), []model.Ring{
		{{0, 0}, {0, 2000}, {2000, 2000}, {2000, 0}},
	}, geometry.AreaOptions)
	require.NoError(t, err)

	// A box reaching the corner block, with the exact area excluding it.
	q := model.BlockQuery{AreaID: "a", BBox: model.BBox{MinX: 0, MinY: 0, MaxX: 2500, MaxY: 2500}, WKB: area.WKB()}
	blocks, err := g.Blocks(context.Background(), q)
	require.NoError(t, err)
	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []string{"b1", "b2"}, ids)
}

func TestGeoJSON_UpdateAndFlush(t *testing.T) {
	path := writeFile(t, "areas.geojson", areasGeoJSON)
	g, err := OpenGeoJSON(path, GeoJSONOptions{})
	require.NoError(t, err)

	pop, hu, sqmi, method := int64(150), int64(60), 1.544, "all"
	res, err := g.UpdateArea(context.Background(), model.Area{ID: "north", Population: &pop, Housing: &hu, AreaSqMi: &sqmi, Method: &method})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = g.UpdateArea(context.Background(), model.Area{ID: "missing"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	out := filepath.Join(t.TempDir(), "out.geojson")
	require.NoError(t, g.Flush(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Features, 2)
	assert.Equal(t, 150.0, doc.Features[0].Properties["population"])
	assert.Equal(t, "all", doc.Features[0].Properties["method"])
	assert.Equal(t, "North", doc.Features[0].Properties["name"])

	reread, err := OpenGeoJSON(out, GeoJSONOptions{})
	require.NoError(t, err)
	areas, err := reread.Areas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(150), *areas[0].Population)
}

func TestOpenGeoJSON_Errors(t *testing.T) {
	_, err := OpenGeoJSON(filepath.Join(t.TempDir(), "nope.geojson"), GeoJSONOptions{})
	require.Error(t, err)

	_, err = OpenGeoJSON(writeFile(t, "bad.geojson", "{"), GeoJSONOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse geojson")

	point := `{"type":"FeatureCollection","features":[{"type":"Feature","id":"p","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`
	_, err = OpenGeoJSON(writeFile(t, "point.geojson", point), GeoJSONOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported geometry type")

	dup := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"x","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
		{"type":"Feature","id":"x","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`
	_, err = OpenGeoJSON(writeFile(t, "dup.geojson", dup), GeoJSONOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate feature id")
}
