// Package aggregate turns a filtered set of workflow runs into the
// full bundle of chart-ready statistics. Aggregation is a pure, total
// function: it never errors, and malformed or missing fields on a run
// contribute zeroes instead of raising.
package aggregate

import "time"

// View is the complete set of derived statistics for one filtered run
// set. It is never mutated incrementally; every recomputation rebuilds
// it from scratch.
type View struct {
	TotalRuns      int     `json:"total_runs"`
	SuccessRate    float64 `json:"success_rate"`
	FailureRate    float64 `json:"failure_rate"`
	AvgDuration    float64 `json:"avg_duration"`
	MedianDuration float64 `json:"median_duration"`
	DurationMAD    float64 `json:"duration_mad"`

	StatusBreakdown []StatusCount `json:"status_breakdown"`
	RunsOverTime    []DayPoint    `json:"runs_over_time"`

	// Full per-dimension lists for table views.
	WorkflowStats    []GroupStats `json:"workflow_stats"`
	JobStats         []GroupStats `json:"job_stats"`
	BranchStats      []GroupStats `json:"branch_stats"`
	EventStats       []GroupStats `json:"event_stats"`
	ContributorStats []GroupStats `json:"contributor_stats"`

	// Chart-bound top lists, capped to the busiest entries.
	TopWorkflows []GroupStats `json:"top_workflows"`
	TopBranches  []GroupStats `json:"top_branches"`

	DurationBox         []BoxStats       `json:"duration_box"`
	FailureRateOverTime []RatePoint      `json:"failure_rate_over_time"`
	Spikes              []Spike          `json:"spikes"`
	TimeToFix           []TimeToFix      `json:"time_to_fix"`
	Worsening           []WorseningPoint `json:"worsening"`
}

// StatusCount is one slice of the status breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// DayPoint carries one calendar day's run statistics.
type DayPoint struct {
	Date           time.Time `json:"date"`
	Count          int       `json:"count"`
	Successes      int       `json:"successes"`
	Failures       int       `json:"failures"`
	AvgDuration    float64   `json:"avg_duration"`
	MedianDuration float64   `json:"median_duration"`
	MinDuration    float64   `json:"min_duration"`
	MaxDuration    float64   `json:"max_duration"`
}

// RatePoint carries one calendar day's failure rate.
type RatePoint struct {
	Date        time.Time `json:"date"`
	FailureRate float64   `json:"failure_rate"`
	Failures    int       `json:"failures"`
	Count       int       `json:"count"`
}

// GroupStats carries the per-dimension breakdown for one group key
// (workflow name, job name, branch, event, or contributor).
type GroupStats struct {
	Name           string  `json:"name"`
	Count          int     `json:"count"`
	Failures       int     `json:"failures"`
	Skipped        int     `json:"skipped"`
	Cancelled      int     `json:"cancelled"`
	TimedOut       int     `json:"timed_out"`
	MedianDuration float64 `json:"median_duration"`
	TotalDuration  float64 `json:"total_duration"`
}

// BoxStats holds five-number summary statistics for a duration list.
type BoxStats struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Q1      float64 `json:"q1"`
	Median  float64 `json:"median"`
	Q3      float64 `json:"q3"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// TimeToFix summarizes how long a workflow stays broken: box stats
// over the intervals between a failure and the next success.
type TimeToFix struct {
	Workflow  string   `json:"workflow"`
	Intervals int      `json:"intervals"`
	Box       BoxStats `json:"box"`
}

// Spike anomaly types, in priority order.
const (
	SpikeFailure   = "failure_spike"
	SpikeDuration  = "duration_spike"
	SpikeExecution = "execution_spike"
)

// Spike flags one anomalous day.
type Spike struct {
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Detail      string    `json:"detail"`
	FailureRate float64   `json:"failure_rate"`
	AvgDuration float64   `json:"avg_duration"`
	Count       int       `json:"count"`
}

// Worsening metrics.
const (
	MetricDuration    = "duration"
	MetricFailureRate = "failure_rate"
)

// WorseningPoint marks a moment where a trailing window's metric
// significantly exceeds the preceding window's, attributed to the run
// at the window boundary.
type WorseningPoint struct {
	Metric    string    `json:"metric"`
	At        time.Time `json:"at"`
	Severity  float64   `json:"severity"`
	Before    float64   `json:"before"`
	After     float64   `json:"after"`
	CommitSHA string    `json:"commit_sha,omitempty"`
	HTMLURL   string    `json:"html_url,omitempty"`
}
