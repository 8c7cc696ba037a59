package geometry

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/apportion/internal/model"
)

// Polygon is the normalized form of a ring list: a GEOS Polygon or
// MultiPolygon plus validity diagnostics.
type Polygon struct {
	geom *geos.Geom

	Valid    bool
	Reason   string
	Repaired bool
	Warnings []string
}

// Geom returns the underlying GEOS geometry.
func (p *Polygon) Geom() *geos.Geom { return p.geom }

// Area returns the planar area in squared coordinate units.
func (p *Polygon) Area() float64 {
	var area float64
	if err := guard("area", func() { area = p.geom.Area() }); err != nil {
		return 0
	}
	return area
}

// Bounds returns the polygon's bounding box.
func (p *Polygon) Bounds() model.BBox {
	if p.geom.IsEmpty() {
		return model.EmptyBBox()
	}
	b := p.geom.Bounds()
	return model.BBox{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
}

// WKB returns the polygon as well-known binary.
func (p *Polygon) WKB() []byte { return p.geom.ToWKB() }

// TypeName is "Polygon" or "MultiPolygon".
func (p *Polygon) TypeName() string {
	if p.geom.TypeID() == geos.TypeIDMultiPolygon {
		return "MultiPolygon"
	}
	return "Polygon"
}

// NumPolygons returns the number of simple polygons in the result.
func (p *Polygon) NumPolygons() int { return p.geom.NumGeometries() }

// IntersectionArea returns the area shared by p and other. GEOS topology
// failures are returned as errors.
func (p *Polygon) IntersectionArea(other *Polygon) (float64, error) {
	var area float64
	err := guard("intersection", func() {
		area = p.geom.Intersection(other.geom).Area()
	})
	if err != nil {
		return 0, err
	}
	return area, nil
}

// Intersects reports whether p and other share any point.
func (p *Polygon) Intersects(other *Polygon) (bool, error) {
	var hit bool
	if err := guard("intersects", func() { hit = p.geom.Intersects(other.geom) }); err != nil {
		return false, err
	}
	return hit, nil
}

// FromWKB parses a Polygon or MultiPolygon from well-known binary and checks
// its validity. No repair is attempted.
func FromWKB(gctx *geos.Context, data []byte) (*Polygon, error) {
	g, err := gctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: parse wkb")
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
	default:
		return nil, eris.Errorf("geometry: wkb is %s, want a polygon", g.Type())
	}
	p := &Polygon{geom: g}
	p.validate()
	return p, nil
}

func (p *Polygon) validate() {
	p.Valid = true
	p.Reason = ""
	err := guard("validate", func() {
		if !p.geom.IsValid() {
			p.Valid = false
			p.Reason = p.geom.IsValidReason()
		}
	})
	if err != nil {
		p.Valid = false
		p.Reason = err.Error()
	}
}

func (p *Polygon) intersects(a, b *geos.Geom) bool {
	var hit bool
	if err := guard("intersects", func() { hit = a.Intersects(b) }); err != nil {
		p.Warnings = append(p.Warnings, fmt.Sprintf("Unable to test hole containment (%v).", err))
		return false
	}
	return hit
}
