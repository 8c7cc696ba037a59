package source

import (
	"github.com/twpayne/go-geos"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// intersecting narrows in-memory blocks to those intersecting the queried
// area, matching what the spatial query of a feature service returns. Blocks
// that cannot be tested (unreadable or invalid) are kept so the aggregator
// reports them.
func intersecting(q model.BlockQuery, blocks []model.Block) []model.Block {
	var candidates []model.Block
	for _, b := range blocks {
		if model.RingsBBox(b.Rings).Intersects(q.BBox) {
			candidates = append(candidates, b)
		}
	}
	if len(q.WKB) == 0 || len(candidates) == 0 {
		return candidates
	}

	gctx := geos.NewContext()
	area, err := geometry.FromWKB(gctx, q.WKB)
	if err != nil {
		return candidates
	}

	out := candidates[:0]
	for _, b := range candidates {
		poly, err := geometry.Normalize(gctx, b.Rings, geometry.Options{})
		if err != nil || !poly.Valid {
			out = append(out, b)
			continue
		}
		if hit, err := area.Intersects(poly); err != nil || hit {
			out = append(out, b)
		}
	}
	return out
}
