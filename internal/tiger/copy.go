package tiger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/apportion/internal/db"
)

// ReplaceState swaps a state's blocks for rows in one transaction: existing
// rows for the state are deleted and the new rows copied in.
func ReplaceState(ctx context.Context, pool db.Pool, stateFIPS string, rows [][]any, batchSize int) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "tiger: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM "+BlocksTable.Sanitize()+" WHERE statefp = $1", stateFIPS); err != nil {
		return 0, eris.Wrapf(err, "tiger: delete blocks for state %s", stateFIPS)
	}

	n, err := db.CopyBatches(ctx, tx, BlocksTable, append(append([]string{}, BlockColumns...), "geom"), rows, batchSize)
	if err != nil {
		return 0, eris.Wrapf(err, "tiger: copy blocks for state %s", stateFIPS)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "tiger: commit")
	}
	return n, nil
}
