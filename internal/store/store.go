// Package store keeps a history of batch summarization runs and the area
// summaries each run produced.
package store

import (
	"context"

	"github.com/sells-group/apportion/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Method string          `json:"method,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, method, source string) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, areas, withIssues int, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Summaries
	SaveSummary(ctx context.Context, runID string, s *model.AreaSummary) error
	Summaries(ctx context.Context, runID string) ([]model.AreaSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
