package geometry

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/apportion/internal/model"
)

// square returns a clockwise (exterior) square ring without a closing point.
func square(x, y, size float64) model.Ring {
	return model.Ring{{x, y}, {x, y + size}, {x + size, y + size}, {x + size, y}}
}

// hole returns a counter-clockwise (interior) square ring.
func hole(x, y, size float64) model.Ring {
	return model.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}}
}

func bowtie() model.Ring {
	return model.Ring{{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0}}
}

func TestNormalize_SingleExterior(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{square(0, 0, 10)}, AreaOptions)
	require.NoError(t, err)

	assert.True(t, p.Valid)
	assert.False(t, p.Repaired)
	assert.Empty(t, p.Warnings)
	assert.Equal(t, "Polygon", p.TypeName())
	assert.Equal(t, 1, p.NumPolygons())
	assert.InDelta(t, 100.0, p.Area(), 1e-9)
	assert.Equal(t, model.BBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}, p.Bounds())
	assert.NotEmpty(t, p.WKB())
}

func TestNormalize_ClosedAndOpenRingsAgree(t *testing.T) {
	gctx := geos.NewContext()
	open := square(0, 0, 10)
	closed := append(model.Ring{}, open...)
	closed = append(closed, geom.Coord{0, 0})

	a, err := Normalize(gctx, []model.Ring{open}, AreaOptions)
	require.NoError(t, err)
	b, err := Normalize(gctx, []model.Ring{closed}, AreaOptions)
	require.NoError(t, err)

	assert.InDelta(t, a.Area(), b.Area(), 1e-9)
	assert.True(t, b.Valid)
}

func TestNormalize_ExteriorWithHole(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{square(0, 0, 10), hole(2, 2, 2)}, AreaOptions)
	require.NoError(t, err)

	assert.True(t, p.Valid)
	assert.Equal(t, "Polygon", p.TypeName())
	assert.Equal(t, 1, p.Geom().NumInteriorRings())
	assert.InDelta(t, 96.0, p.Area(), 1e-9)
}

func TestNormalize_MultipleExteriors(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{square(0, 0, 10), square(20, 0, 10)}, AreaOptions)
	require.NoError(t, err)

	assert.True(t, p.Valid)
	assert.Equal(t, "MultiPolygon", p.TypeName())
	assert.Equal(t, 2, p.NumPolygons())
	assert.InDelta(t, 200.0, p.Area(), 1e-9)
}

func TestNormalize_HoleAssignedToContainingExterior(t *testing.T) {
	rings := []model.Ring{square(0, 0, 10), square(20, 0, 10), hole(22, 2, 2)}
	p, err := Normalize(geos.NewContext(), rings, AreaOptions)
	require.NoError(t, err)

	require.Equal(t, 2, p.NumPolygons())
	assert.Equal(t, 0, p.Geom().Geometry(0).NumInteriorRings())
	assert.Equal(t, 1, p.Geom().Geometry(1).NumInteriorRings())
	assert.InDelta(t, 196.0, p.Area(), 1e-9)
	assert.True(t, p.Valid)
}

// A hole that merely touches the first exterior is taken by it even though it
// extends into the second exterior. This mirrors the first-match assignment
// used by the upstream feature service tooling and is a known limitation.
func TestNormalize_FirstMatchHoleAssignmentLimitation(t *testing.T) {
	touching := model.Ring{{10, 5}, {15, 4}, {15, 6}}
	rings := []model.Ring{square(0, 0, 10), square(11, 0, 10), touching}

	p, err := Normalize(geos.NewContext(), rings, BlockOptions)
	require.NoError(t, err)

	require.Equal(t, 2, p.NumPolygons())
	assert.Equal(t, 1, p.Geom().Geometry(0).NumInteriorRings())
	assert.Equal(t, 0, p.Geom().Geometry(1).NumInteriorRings())
	assert.False(t, p.Valid)
	require.NotEmpty(t, p.Warnings)
	assert.True(t, strings.HasPrefix(p.Warnings[len(p.Warnings)-1], "Polygon is not valid ("))
}

func TestNormalize_UnmatchedHoleDropped(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{square(0, 0, 10), hole(50, 50, 2)}, AreaOptions)
	require.NoError(t, err)

	assert.True(t, p.Valid)
	assert.Equal(t, 0, p.Geom().NumInteriorRings())
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "1 interior ring(s) not contained")
}

func TestNormalize_SelfIntersectionRepaired(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{bowtie()}, AreaOptions)
	require.NoError(t, err)

	assert.True(t, p.Valid)
	assert.True(t, p.Repaired)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "Self-intersection")
	assert.Contains(t, p.Warnings[0], "self-intersections were automatically fixed")
	assert.True(t, strings.HasSuffix(p.Warnings[0], "."))
}

func TestNormalize_SelfIntersectionNotRepairedForBlocks(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{bowtie()}, BlockOptions)
	require.NoError(t, err)

	assert.False(t, p.Valid)
	assert.False(t, p.Repaired)
	assert.Contains(t, p.Reason, "Self-intersection")
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "Polygon is not valid (Self-intersection")
	assert.NotContains(t, p.Warnings[0], "automatically fixed")
}

func TestNormalize_InvalidWithoutWarn(t *testing.T) {
	p, err := Normalize(geos.NewContext(), []model.Ring{bowtie()}, Options{})
	require.NoError(t, err)

	assert.False(t, p.Valid)
	assert.NotEmpty(t, p.Reason)
	assert.Empty(t, p.Warnings)
}

func TestNormalize_StructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		rings  []model.Ring
		ring   int
		reason string
	}{
		{"no rings", nil, -1, "no rings"},
		{"two points", []model.Ring{{{0, 0}, {1, 1}, {0, 0}}}, 0, "2 distinct points"},
		{"short coordinate", []model.Ring{square(0, 0, 1), {{0, 0}, {1}, {1, 1}}}, 1, "has 1 ordinates"},
		{"not finite", []model.Ring{{{0, 0}, {math.NaN(), 1}, {1, 1}}}, 0, "not finite"},
		{"only holes", []model.Ring{hole(0, 0, 1)}, -1, "no exterior ring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(geos.NewContext(), tt.rings, AreaOptions)
			require.Error(t, err)

			var se *StructuralError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.ring, se.Ring)
			assert.Contains(t, se.Error(), tt.reason)
		})
	}
}

func TestPolygon_IntersectionArea(t *testing.T) {
	gctx := geos.NewContext()
	a, err := Normalize(gctx, []model.Ring{square(0, 0, 10)}, AreaOptions)
	require.NoError(t, err)
	b, err := Normalize(gctx, []model.Ring{square(5, 0, 10)}, AreaOptions)
	require.NoError(t, err)
	c, err := Normalize(gctx, []model.Ring{square(30, 30, 10)}, AreaOptions)
	require.NoError(t, err)

	area, err := a.IntersectionArea(b)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, area, 1e-9)

	area, err = a.IntersectionArea(c)
	require.NoError(t, err)
	assert.Zero(t, area)
}

func TestFromWKB(t *testing.T) {
	gctx := geos.NewContext()
	a, err := Normalize(gctx, []model.Ring{square(0, 0, 10), square(20, 0, 10)}, AreaOptions)
	require.NoError(t, err)

	b, err := FromWKB(gctx, a.WKB())
	require.NoError(t, err)
	assert.True(t, b.Valid)
	assert.Equal(t, "MultiPolygon", b.TypeName())
	assert.InDelta(t, 200.0, b.Area(), 1e-9)

	c, err := Normalize(gctx, []model.Ring{square(5, 5, 2)}, AreaOptions)
	require.NoError(t, err)
	hit, err := b.Intersects(c)
	require.NoError(t, err)
	assert.True(t, hit)

	d, err := Normalize(gctx, []model.Ring{square(11, 0, 2)}, AreaOptions)
	require.NoError(t, err)
	hit, err = b.Intersects(d)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestFromWKB_Rejects(t *testing.T) {
	gctx := geos.NewContext()
	_, err := FromWKB(gctx, []byte{0x00})
	require.Error(t, err)

	point := []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f, 0, 0, 0, 0, 0, 0, 0, 0x40}
	_, err = FromWKB(gctx, point)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want a polygon")
}
