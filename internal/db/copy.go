package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBatchSize is the COPY batch size used when none is given.
const DefaultBatchSize = 50000

// CopyBatches bulk-inserts rows into table with the COPY protocol, batchSize
// rows at a time (0 = DefaultBatchSize). It returns the rows copied before
// any failure.
func CopyBatches(ctx context.Context, pool Pool, table pgx.Identifier, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	name := strings.Join(table, ".")
	log := zap.L().With(
		zap.String("component", "db.copy"),
		zap.String("table", name),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows[i:end]))
		if err != nil {
			return total, eris.Wrapf(err, "db: COPY INTO %s (rows %d-%d)", name, i, end)
		}
		total += n
		log.Debug("batch copied", zap.Int("start", i), zap.Int("end", end), zap.Int64("rows", n))
	}
	return total, nil
}
