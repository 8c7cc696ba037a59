package model

import "time"

// RunStatus represents the state of a batch summarization run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one batch summarization.
type Run struct {
	ID              string     `json:"id"`
	Method          string     `json:"method"`
	Source          string     `json:"source"`
	Status          RunStatus  `json:"status"`
	Areas           int        `json:"areas"`
	AreasWithIssues int        `json:"areas_with_issues"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
