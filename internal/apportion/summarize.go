// Package apportion estimates population and housing for arbitrary areas
// from the census blocks that intersect them.
package apportion

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// SquareMetersPerAcre and AcresPerSquareMile convert planar square meters
// to square miles.
const (
	SquareMetersPerAcre = 4046.86
	AcresPerSquareMile  = 640
)

// IntersectionResult is the overlap of one block with an area.
type IntersectionResult struct {
	IntersectionArea float64
	BlockArea        float64
	// Proportion is IntersectionArea / BlockArea. It is not clamped and may
	// exceed 1 by floating point noise.
	Proportion float64
}

// Intersector returns the area shared by an area polygon and a block polygon.
type Intersector func(area, block *geometry.Polygon) (float64, error)

func geosIntersector(area, block *geometry.Polygon) (float64, error) {
	return area.IntersectionArea(block)
}

// Option configures Summarize.
type Option func(*summarizer)

type summarizer struct {
	gctx      *geos.Context
	intersect Intersector
	areaPoly  *geometry.Polygon
}

// WithGEOSContext runs every geometry operation on gctx. A GEOS context
// serializes its calls, so concurrent callers should each pass their own.
func WithGEOSContext(gctx *geos.Context) Option {
	return func(s *summarizer) { s.gctx = gctx }
}

// WithAreaPolygon supplies the area already normalized with
// geometry.AreaOptions, so Summarize does not normalize it again. It must have
// been built on the same GEOS context.
func WithAreaPolygon(p *geometry.Polygon) Option {
	return func(s *summarizer) { s.areaPoly = p }
}

// WithIntersector replaces the GEOS intersection.
func WithIntersector(fn Intersector) Option {
	return func(s *summarizer) { s.intersect = fn }
}

// SquareMiles converts a planar area in square meters to square miles.
func SquareMiles(sqMeters float64) float64 {
	return sqMeters / SquareMetersPerAcre / AcresPerSquareMile
}

// Summarize intersects area with its candidate blocks and totals population
// and housing under every method. When method is not MethodNone the
// method's rounded totals, the area size and its label are written to area.
//
// Per-block problems are recorded on the summary and the block is skipped.
// Only a structurally unreadable area is returned as an error.
func Summarize(area *model.Area, blocks []model.Block, method Method, opts ...Option) (*model.AreaSummary, error) {
	s := &summarizer{intersect: geosIntersector}
	for _, opt := range opts {
		opt(s)
	}
	if s.gctx == nil {
		s.gctx = geos.NewContext()
	}

	summary := &model.AreaSummary{AreaID: area.ID}

	areaPoly := s.areaPoly
	if areaPoly == nil {
		var err error
		areaPoly, err = geometry.Normalize(s.gctx, area.Rings, geometry.AreaOptions)
		if err != nil {
			return nil, eris.Wrapf(err, "apportion: normalize area %s", area.ID)
		}
	}
	if areaPoly.Valid {
		summary.Warnings = append(summary.Warnings, areaPoly.Warnings...)
	} else {
		// The area message below carries the reason; drop the normalizer's
		// message when it says the same thing.
		dup := geometry.InvalidPrefix + areaPoly.Reason + ")."
		for _, w := range areaPoly.Warnings {
			if w != dup {
				summary.Warnings = append(summary.Warnings, w)
			}
		}
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("Unable to convert area to valid polygon (%s).", areaPoly.Reason))
	}

	summary.AreaSqMi = SquareMiles(areaPoly.Area())

	for i := range blocks {
		b := &blocks[i]
		res, ok := s.intersectBlock(summary, areaPoly, b)
		if !ok {
			continue
		}

		summary.BlocksAll++
		summary.PopAll += b.Population
		summary.HUAll += b.Housing
		if res.Proportion > 0.5 {
			summary.BlocksGT50++
			summary.PopGT50 += b.Population
			summary.HUGT50 += b.Housing
		}
		summary.PopWtd += weighted(b.Population, res.Proportion)
		summary.HUWtd += weighted(b.Housing, res.Proportion)
	}

	if _, err := ApplyMethod(area, summary, method); err != nil {
		return nil, err
	}
	return summary, nil
}

// intersectBlock normalizes b and intersects it with areaPoly. It returns
// false, after recording why on summary, when the block must be skipped.
func (s *summarizer) intersectBlock(summary *model.AreaSummary, areaPoly *geometry.Polygon, b *model.Block) (IntersectionResult, bool) {
	blockPoly, err := geometry.Normalize(s.gctx, b.Rings, geometry.BlockOptions)
	if err != nil {
		summary.Errors = append(summary.Errors,
			fmt.Sprintf("Unable to read census block %s (%v).", b.ID, err))
		return IntersectionResult{}, false
	}
	if !blockPoly.Valid {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("Unable to convert census block %s to valid polygon (%s).", b.ID, blockPoly.Reason))
		return IntersectionResult{}, false
	}

	for _, w := range blockPoly.Warnings {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Census block %s: %s", b.ID, w))
	}

	overlap, err := s.intersect(areaPoly, blockPoly)
	if err != nil {
		summary.Errors = append(summary.Errors,
			fmt.Sprintf("Unable to intersect census block %s (%v).", b.ID, err))
		return IntersectionResult{}, false
	}

	res := IntersectionResult{IntersectionArea: overlap, BlockArea: blockPoly.Area()}
	if res.BlockArea > 0 {
		res.Proportion = res.IntersectionArea / res.BlockArea
	}
	return res, true
}

// weighted rounds value*proportion half to even, matching the rounding the
// reference outputs were produced with.
func weighted(value int64, proportion float64) int64 {
	return int64(math.RoundToEven(float64(value) * proportion))
}
