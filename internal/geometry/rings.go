package geometry

import (
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/apportion/internal/model"
)

// RingsFromGeom flattens a go-geom Polygon or MultiPolygon into rings.
//
// With orient set, exteriors are rewound clockwise and holes
// counter-clockwise. Sources that follow RFC 7946 (GeoJSON) or OGC winding
// must be oriented; shapefiles and Esri JSON already use this convention.
func RingsFromGeom(g geom.T, orient bool) ([]model.Ring, error) {
	switch g := g.(type) {
	case *geom.Polygon:
		return polygonRings(g, orient), nil
	case *geom.MultiPolygon:
		var rings []model.Ring
		for i := 0; i < g.NumPolygons(); i++ {
			rings = append(rings, polygonRings(g.Polygon(i), orient)...)
		}
		return rings, nil
	case nil:
		return nil, eris.New("geometry: missing geometry")
	default:
		return nil, eris.Errorf("geometry: unsupported geometry type %T", g)
	}
}

func polygonRings(p *geom.Polygon, orient bool) []model.Ring {
	rings := make([]model.Ring, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		lr := p.LinearRing(i)
		ring := make(model.Ring, 0, lr.NumCoords())
		for _, c := range lr.Coords() {
			ring = append(ring, geom.Coord{c.X(), c.Y()})
		}
		if orient && lr.NumCoords() >= 4 {
			ccw := xy.IsRingCounterClockwise(lr.Layout(), lr.FlatCoords())
			exterior := i == 0
			if exterior == ccw {
				slices.Reverse(ring)
			}
		}
		rings = append(rings, ring)
	}
	return rings
}

// IsExterior reports whether a ring is an exterior under the clockwise
// convention. The ring may be open. Rings with fewer than three positions are
// never exteriors.
func IsExterior(r model.Ring) bool {
	for _, c := range r {
		if len(c) < 2 {
			return false
		}
	}
	coords := closedCoords(r)
	if len(coords) < 4 {
		return false
	}
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return !xy.IsRingCounterClockwise(geom.XY, flat)
}
