// Package geometry turns ring lists from feature services, shapefiles and
// PostGIS into valid GEOS polygons, repairing self-intersections on request.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/apportion/internal/model"
)

// Options controls how Normalize treats an invalid result.
type Options struct {
	// FixSelfIntersections rebuilds the polygon with a zero-width buffer when
	// GEOS reports a self-intersection.
	FixSelfIntersections bool
	// WarnInvalid records the validity message in Polygon.Warnings.
	WarnInvalid bool
}

var (
	// AreaOptions is used for analysis areas, which may be repaired.
	AreaOptions = Options{FixSelfIntersections: true, WarnInvalid: true}
	// BlockOptions is used for census blocks, which are reference data and
	// are never modified.
	BlockOptions = Options{WarnInvalid: true}
)

const selfIntersection = "Self-intersection"

// InvalidPrefix starts the validity message recorded with WarnInvalid.
const InvalidPrefix = "Polygon is not valid ("

// StructuralError reports ring data that cannot describe a polygon at all.
type StructuralError struct {
	Ring   int // index of the offending ring, -1 when not ring specific
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Ring < 0 {
		return "geometry: " + e.Reason
	}
	return fmt.Sprintf("geometry: ring %d: %s", e.Ring, e.Reason)
}

// Normalize classifies rings by winding order, assigns holes to exteriors and
// builds a Polygon (one exterior) or MultiPolygon (several). Invalid output is
// returned with diagnostics rather than as an error; only structurally broken
// rings produce an error.
//
// Holes are assigned first-match: each exterior, in input order, takes every
// remaining hole that intersects it. A hole that touches an earlier exterior
// but lies inside a later one ends up on the earlier exterior.
func Normalize(gctx *geos.Context, rings []model.Ring, opts Options) (*Polygon, error) {
	if len(rings) == 0 {
		return nil, &StructuralError{Ring: -1, Reason: "no rings"}
	}

	var exteriors, interiors [][][]float64
	for i, r := range rings {
		coords, flat, err := closeRing(i, r)
		if err != nil {
			return nil, err
		}
		if xy.IsRingCounterClockwise(geom.XY, flat) {
			interiors = append(interiors, coords)
		} else {
			exteriors = append(exteriors, coords)
		}
	}
	if len(exteriors) == 0 {
		return nil, &StructuralError{Ring: -1, Reason: "no exterior ring"}
	}

	p := &Polygon{}

	var polys []*geos.Geom
	for _, ext := range exteriors {
		shell := [][][]float64{ext}
		var within, outside [][][]float64
		if len(interiors) > 0 {
			extPoly := gctx.NewPolygon(shell)
			for _, in := range interiors {
				if p.intersects(gctx.NewPolygon([][][]float64{in}), extPoly) {
					within = append(within, in)
				} else {
					outside = append(outside, in)
				}
			}
			interiors = outside
		}
		polys = append(polys, gctx.NewPolygon(append(shell, within...)))
	}
	if len(interiors) > 0 {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("%d interior ring(s) not contained by any exterior ring were dropped", len(interiors)))
	}

	if len(polys) == 1 {
		p.geom = polys[0]
	} else {
		p.geom = gctx.NewCollection(geos.TypeIDMultiPolygon, polys)
	}

	p.validate()
	if p.Valid {
		return p, nil
	}

	msg := fmt.Sprintf("%s%s)", InvalidPrefix, p.Reason)
	if strings.Contains(p.Reason, selfIntersection) && opts.FixSelfIntersections {
		var repaired *geos.Geom
		err := guard("buffer", func() { repaired = p.geom.Buffer(0, 8) })
		if err == nil && repaired != nil {
			p.geom = repaired
			p.Repaired = true
			msg += "; self-intersections were automatically fixed"
			p.validate()
		} else {
			p.Warnings = append(p.Warnings, fmt.Sprintf("Unable to repair polygon (%v).", err))
		}
	}
	if opts.WarnInvalid {
		p.Warnings = append(p.Warnings, msg+".")
	}

	return p, nil
}

// closeRing checks a ring's coordinates and returns it closed, both as nested
// coordinates for GEOS and as flat XY coordinates for go-geom.
func closeRing(idx int, r model.Ring) ([][]float64, []float64, error) {
	coords := make([][]float64, 0, len(r)+1)
	for j, c := range r {
		if len(c) < 2 {
			return nil, nil, &StructuralError{Ring: idx, Reason: fmt.Sprintf("coordinate %d has %d ordinates", j, len(c))}
		}
		x, y := c[0], c[1]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return nil, nil, &StructuralError{Ring: idx, Reason: fmt.Sprintf("coordinate %d is not finite", j)}
		}
		coords = append(coords, []float64{x, y})
	}

	if n := distinctPositions(coords); n < 3 {
		return nil, nil, &StructuralError{Ring: idx, Reason: fmt.Sprintf("ring has %d distinct points, need at least 3", n)}
	}

	first, last := coords[0], coords[len(coords)-1]
	if first[0] != last[0] || first[1] != last[1] {
		coords = append(coords, []float64{first[0], first[1]})
	}

	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return coords, flat, nil
}

func distinctPositions(coords [][]float64) int {
	seen := make(map[[2]float64]struct{}, len(coords))
	for _, c := range coords {
		seen[[2]float64{c[0], c[1]}] = struct{}{}
	}
	return len(seen)
}

// guard runs fn and converts a GEOS panic into an error.
func guard(op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = eris.Wrapf(e, "geometry: %s", op)
				return
			}
			err = eris.Errorf("geometry: %s: %v", op, r)
		}
	}()
	fn()
	return nil
}
