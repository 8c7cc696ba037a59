package source

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/apportion/internal/model"
	"github.com/sells-group/apportion/pkg/tigerweb"
)

// TIGERweb fetches census blocks from the TIGERweb service in the areas'
// projection.
type TIGERweb struct {
	client *tigerweb.Client
	wkid   int
}

// NewTIGERweb creates a TIGERweb block source. wkid is the projection areas
// are in and blocks are returned in.
func NewTIGERweb(client *tigerweb.Client, wkid int) *TIGERweb {
	return &TIGERweb{client: client, wkid: wkid}
}

// WKID returns the projection areas are read in and blocks returned in.
func (s *TIGERweb) WKID() int { return s.wkid }

// Blocks queries blocks intersecting the area's own rings, or its bounding
// box when the rings are not available.
func (s *TIGERweb) Blocks(ctx context.Context, q model.BlockQuery) ([]model.Block, error) {
	sr := tigerweb.SpatialReference{WKID: s.wkid}
	tq := tigerweb.Query{WKID: s.wkid}
	if len(q.Rings) > 0 {
		poly := &tigerweb.Polygon{SpatialReference: &sr}
		for _, r := range q.Rings {
			ring := make([][2]float64, 0, len(r))
			for _, c := range r {
				if len(c) >= 2 {
					ring = append(ring, [2]float64{c[0], c[1]})
				}
			}
			poly.Rings = append(poly.Rings, ring)
		}
		tq.Polygon = poly
	} else {
		tq.Envelope = &tigerweb.Envelope{
			XMin: q.BBox.MinX, YMin: q.BBox.MinY,
			XMax: q.BBox.MaxX, YMax: q.BBox.MaxY,
			SpatialReference: sr,
		}
	}

	features, err := s.client.Query(ctx, tq)
	if err != nil {
		return nil, eris.Wrapf(err, "source: tigerweb blocks for area %s", q.AreaID)
	}

	blocks := make([]model.Block, 0, len(features))
	for _, f := range features {
		b := model.Block{
			ID:         f.String("GEOID"),
			Population: f.Int("POP100"),
			Housing:    f.Int("HU100"),
		}
		if f.Geometry != nil {
			for _, r := range f.Geometry.Rings {
				ring := make(model.Ring, 0, len(r))
				for _, c := range r {
					ring = append(ring, geom.Coord{c[0], c[1]})
				}
				b.Rings = append(b.Rings, ring)
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
