package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/apportion/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// sqlitePragmas are applied by the driver to every pooled connection;
// foreign_keys and busy_timeout do not carry over between connections.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// pragmaDSN appends sqlitePragmas to dsn as _pragma query parameters.
func pragmaDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	return b.String()
}

// NewSQLite opens a SQLite database at the given path in WAL mode with
// foreign keys enforced on every connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", pragmaDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: connect")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	method            TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'running',
	areas             INTEGER NOT NULL DEFAULT 0,
	areas_with_issues INTEGER NOT NULL DEFAULT 0,
	error             TEXT,
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	area_id    TEXT NOT NULL,
	has_issues INTEGER NOT NULL DEFAULT 0,
	summary    TEXT NOT NULL,
	PRIMARY KEY (run_id, area_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the run tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, method, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, method, source, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, method, source, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Method:    method,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

// FinishRun marks a run complete, or failed when runErr is set.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, areas, withIssues int, runErr error) error {
	status := model.RunStatusComplete
	var errText sql.NullString
	if runErr != nil {
		status = model.RunStatusFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, areas = ?, areas_with_issues = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), areas, withIssues, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, method, source, status, areas, areas_with_issues, error, started_at, finished_at
		FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, method, source, status, areas, areas_with_issues, error, started_at, finished_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Method != "" {
		query += ` AND method = ?`
		args = append(args, filter.Method)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveSummary stores an area's summary under a run, replacing any earlier
// summary for the same area.
func (s *SQLiteStore) SaveSummary(ctx context.Context, runID string, sum *model.AreaSummary) error {
	if sum == nil {
		return eris.New("sqlite: nil summary")
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_summaries (run_id, area_id, has_issues, summary) VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, area_id) DO UPDATE SET has_issues = excluded.has_issues, summary = excluded.summary`,
		runID, sum.AreaID, sum.HasIssues(), string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save summary %s for run %s", sum.AreaID, runID)
	}
	return nil
}

// Summaries returns a run's summaries ordered by area id.
func (s *SQLiteStore) Summaries(ctx context.Context, runID string) ([]model.AreaSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary FROM run_summaries WHERE run_id = ? ORDER BY area_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list summaries for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AreaSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		var sum model.AreaSummary
		if err := json.Unmarshal([]byte(data), &sum); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list summaries iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var errText sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Method, &r.Source, &r.Status, &r.Areas, &r.AreasWithIssues,
		&errText, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = errText.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
