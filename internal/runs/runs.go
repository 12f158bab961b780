// Package runs tracks ingestion runs: one row per pipeline execution plus
// the per-paper outcomes recorded while it ran. The run row is created when
// the pipeline starts, its outcomes stream in through a batching Recorder,
// and the row is finalized with aggregate counts when the run ends.
package runs

import "time"

// Run statuses. A run is "running" from creation until FinishRun records
// either completion or a fatal error.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one execution of the ingestion pipeline.
type Run struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}
