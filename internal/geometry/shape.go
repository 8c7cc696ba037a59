package geometry

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/apportion/internal/model"
)

// RingsFromShape splits a shapefile polygon into its parts. Shapefiles store
// exteriors clockwise, so the rings need no reorientation.
func RingsFromShape(shape shp.Shape) ([]model.Ring, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil {
		return nil, eris.Errorf("geometry: unsupported shape type %T", shape)
	}
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil, eris.New("geometry: empty shapefile polygon")
	}

	rings := make([]model.Ring, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(p.Points)) {
			return nil, eris.Errorf("geometry: part %d has bad bounds [%d, %d)", i, start, end)
		}
		ring := make(model.Ring, 0, end-start)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, geom.Coord{pt.X, pt.Y})
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// ToMultiPolygon assembles rings into a go-geom MultiPolygon the way shapefile
// readers do: every exterior starts a polygon and each hole joins the
// exterior before it. Leading holes are dropped.
func ToMultiPolygon(rings []model.Ring) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY)
	var current [][]geom.Coord
	flush := func() error {
		if current == nil {
			return nil
		}
		poly, err := geom.NewPolygon(geom.XY).SetCoords(current)
		if err != nil {
			return eris.Wrap(err, "geometry: build polygon")
		}
		current = nil
		return mp.Push(poly)
	}

	for i, r := range rings {
		for _, c := range r {
			if len(c) < 2 {
				return nil, &StructuralError{Ring: i, Reason: "coordinate has fewer than 2 ordinates"}
			}
		}
		coords := closedCoords(r)
		if IsExterior(r) {
			if err := flush(); err != nil {
				return nil, err
			}
			current = [][]geom.Coord{coords}
			continue
		}
		if current != nil {
			current = append(current, coords)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.New("geometry: no exterior ring")
	}
	return mp, nil
}

func closedCoords(r model.Ring) []geom.Coord {
	coords := make([]geom.Coord, 0, len(r)+1)
	for _, c := range r {
		coords = append(coords, geom.Coord{c[0], c[1]})
	}
	if n := len(coords); n > 0 && (coords[0][0] != coords[n-1][0] || coords[0][1] != coords[n-1][1]) {
		coords = append(coords, coords[0])
	}
	return coords
}
