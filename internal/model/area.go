package model

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Ring is an ordered sequence of XY coordinates. The closing coordinate is
// optional. Rings follow the Esri/shapefile winding convention: clockwise
// rings are exteriors and counter-clockwise rings are holes.
type Ring []geom.Coord

// Area is a polygon for which population and housing estimates are computed.
// The estimate fields stay nil until a summary method has been applied.
type Area struct {
	ID         string   `json:"id"`
	Rings      []Ring   `json:"rings"`
	Population *int64   `json:"population"`
	Housing    *int64   `json:"housing"`
	AreaSqMi   *float64 `json:"area_sq_mi"`
	Method     *string  `json:"method"`
}

// Block is a census block with its decennial population and housing unit counts.
type Block struct {
	ID         string `json:"id"`
	Rings      []Ring `json:"rings"`
	Population int64  `json:"population"`
	Housing    int64  `json:"housing"`
}

// BBox is an axis-aligned bounding box in analysis coordinates.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// EmptyBBox returns a box that contains nothing and grows on the first Extend.
func EmptyBBox() BBox {
	return BBox{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// IsEmpty reports whether the box has never been extended.
func (b BBox) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Extend grows the box to include c.
func (b BBox) Extend(c geom.Coord) BBox {
	if len(c) < 2 {
		return b
	}
	b.MinX = math.Min(b.MinX, c[0])
	b.MinY = math.Min(b.MinY, c[1])
	b.MaxX = math.Max(b.MaxX, c[0])
	b.MaxY = math.Max(b.MaxY, c[1])
	return b
}

// Intersects reports whether two boxes overlap, boundaries included.
func (b BBox) Intersects(o BBox) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// RingsBBox returns the bounding box of all coordinates in rings.
func RingsBBox(rings []Ring) BBox {
	box := EmptyBBox()
	for _, r := range rings {
		for _, c := range r {
			box = box.Extend(c)
		}
	}
	return box
}

// BlockQuery describes the area whose candidate blocks a BlockSource returns.
// Sources filter on BBox and, where they can, on the exact area geometry.
type BlockQuery struct {
	AreaID string
	BBox   BBox
	// Rings are the area's rings as read from its source.
	Rings []Ring
	// WKB is the normalized area polygon.
	WKB []byte
}
