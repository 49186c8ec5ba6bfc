package model

import "time"

// Conclusion values for runs and jobs, as reported by the backend.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionSkipped   = "skipped"
	ConclusionTimedOut  = "timed_out"
)

// Run is the canonical workflow-run record used by the whole pipeline.
// Upstream alias fields are folded into it at ingestion by Normalize;
// nothing downstream ever sees the raw wire shape.
type Run struct {
	ID           int64     `json:"id"`
	WorkflowName string    `json:"workflow_name"`
	Branch       string    `json:"branch"`
	Actor        string    `json:"actor"`
	Event        string    `json:"event"`
	Conclusion   string    `json:"conclusion"`
	CreatedAt    time.Time `json:"created_at"`
	Duration     float64   `json:"duration"`
	CommitSHA    string    `json:"commit_sha"`
	HTMLURL      string    `json:"html_url"`
	Jobs         []Job     `json:"jobs,omitempty"`
}

// Job is a sub-unit of a Run with its own outcome and duration.
// Jobs arrive in the second streaming phase and are attached to the
// already-stored run by id.
type Job struct {
	Name       string  `json:"name"`
	Conclusion string  `json:"conclusion"`
	Duration   float64 `json:"duration"`
}

// HasDuration reports whether the run carries a usable duration sample.
// Zero and negative durations are treated as missing.
func (r *Run) HasDuration() bool {
	return r.Duration > 0
}

// Day returns the UTC calendar day of the run's creation time, used as
// the bucket key for all daily time series.
func (r *Run) Day() time.Time {
	return r.CreatedAt.UTC().Truncate(24 * time.Hour)
}
