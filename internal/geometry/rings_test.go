package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/apportion/internal/model"
)

// ccwPolygon builds an RFC 7946 polygon: counter-clockwise exterior, clockwise hole.
func ccwPolygon(t *testing.T) *geom.Polygon {
	t.Helper()
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}},
	})
	require.NoError(t, err)
	return p
}

func TestRingsFromGeom_OrientsPolygon(t *testing.T) {
	rings, err := RingsFromGeom(ccwPolygon(t), true)
	require.NoError(t, err)
	require.Len(t, rings, 2)

	assert.True(t, IsExterior(rings[0]))
	assert.False(t, IsExterior(rings[1]))
	assert.Equal(t, geom.Coord{0, 0}, rings[0][0])
	assert.Equal(t, geom.Coord{0, 10}, rings[0][1])
}

func TestRingsFromGeom_KeepsWindingWithoutOrient(t *testing.T) {
	rings, err := RingsFromGeom(ccwPolygon(t), false)
	require.NoError(t, err)
	require.Len(t, rings, 2)

	assert.False(t, IsExterior(rings[0]))
	assert.True(t, IsExterior(rings[1]))
}

func TestRingsFromGeom_MultiPolygonDropsZ(t *testing.T) {
	mp, err := geom.NewMultiPolygon(geom.XYZ).SetCoords([][][]geom.Coord{
		{{{0, 0, 1}, {0, 1, 1}, {1, 1, 1}, {1, 0, 1}, {0, 0, 1}}},
		{{{5, 5, 2}, {5, 6, 2}, {6, 6, 2}, {6, 5, 2}, {5, 5, 2}}},
	})
	require.NoError(t, err)

	rings, err := RingsFromGeom(mp, true)
	require.NoError(t, err)
	require.Len(t, rings, 2)
	for _, r := range rings {
		assert.True(t, IsExterior(r))
		for _, c := range r {
			assert.Len(t, c, 2)
		}
	}
}

func TestRingsFromGeom_Unsupported(t *testing.T) {
	_, err := RingsFromGeom(geom.NewPointFlat(geom.XY, []float64{1, 2}), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported geometry type")

	_, err = RingsFromGeom(nil, true)
	require.Error(t, err)
}

func TestIsExterior_ShortRing(t *testing.T) {
	assert.False(t, IsExterior(model.Ring{{0, 0}, {1, 1}}))
}
