package tiger

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/geometry"
	"github.com/sells-group/apportion/internal/model"
)

// ParseBlocks reads a TABBLOCK20 shapefile into COPY rows matching
// BlockColumns plus a trailing EWKB MultiPolygon. Records without a usable
// polygon or GEOID are skipped and counted.
func ParseBlocks(shpPath string) (rows [][]any, skipped int, err error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		fieldIdx[strings.ToUpper(strings.TrimRight(f.String(), "\x00"))] = i
	}
	for _, name := range []string{"GEOID20", "POP20", "HOUSING20"} {
		if _, ok := fieldIdx[name]; !ok {
			return nil, 0, eris.Errorf("tiger: %s has no %s field", shpPath, name)
		}
	}

	for reader.Next() {
		_, shape := reader.Shape()
		row, ok := blockRow(reader, fieldIdx, shape)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped block records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return rows, skipped, nil
}

func blockRow(reader *shp.Reader, fieldIdx map[string]int, shape shp.Shape) ([]any, bool) {
	row := make([]any, 0, len(blockFields)+1)
	for i, field := range blockFields {
		var val string
		if idx, ok := fieldIdx[field]; ok {
			val = strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
		}
		switch BlockColumns[i] {
		case "geoid":
			if val == "" {
				return nil, false
			}
			row = append(row, val)
		case "aland", "awater", "pop20", "housing20":
			row = append(row, parseCount(val))
		default:
			row = append(row, nullable(val))
		}
	}

	rings, err := geometry.RingsFromShape(shape)
	if err != nil {
		return nil, false
	}
	data, err := EncodeBlockGeometry(rings)
	if err != nil {
		return nil, false
	}
	return append(row, data), true
}

// EncodeBlockGeometry assembles rings into a MultiPolygon and encodes it as
// EWKB with the TIGER SRID.
func EncodeBlockGeometry(rings []model.Ring) ([]byte, error) {
	mp, err := geometry.ToMultiPolygon(rings)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: assemble block polygon")
	}
	data, err := ewkb.Marshal(mp.SetSRID(SRID), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode EWKB")
	}
	return data, nil
}

// parseCount reads a numeric dBASE value. Blank or malformed values load as 0.
func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(n)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
