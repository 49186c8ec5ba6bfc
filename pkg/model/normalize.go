package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// RawRun is the wire shape of a run record as emitted by the backend.
// The upstream schema has drifted over time, so the same logical field
// appears under several aliases. Normalize folds them into a canonical
// Run; the rest of the pipeline never touches these aliases.
type RawRun struct {
	ID           int64           `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	Name         string          `json:"name"`
	Branch       string          `json:"branch"`
	HeadBranch   string          `json:"head_branch"`
	Actor        json.RawMessage `json:"actor"`
	Triggering   json.RawMessage `json:"triggering_actor"`
	IssuerName   string          `json:"issuer_name"`
	Event        string          `json:"event"`
	Conclusion   string          `json:"conclusion"`
	CreatedAt    json.RawMessage `json:"created_at"`
	RunStartedAt json.RawMessage `json:"run_started_at"`
	UpdatedAt    json.RawMessage `json:"updated_at"`
	Duration     float64         `json:"duration"`
	CommitSHA    string          `json:"commit_sha"`
	HeadSHA      string          `json:"head_sha"`
	HTMLURL      string          `json:"html_url"`
	Jobs         []RawJob        `json:"jobs"`
}

// RawJob is the wire shape of a per-run job record.
type RawJob struct {
	Name        string          `json:"name"`
	Conclusion  string          `json:"conclusion"`
	Duration    float64         `json:"duration"`
	StartedAt   json.RawMessage `json:"started_at"`
	CompletedAt json.RawMessage `json:"completed_at"`
}

// Normalize converts a raw wire record into the canonical Run. Missing
// or malformed fields produce zero values, never errors; aggregation
// treats zeroes as absent samples.
func (raw *RawRun) Normalize() Run {
	run := Run{
		ID:           raw.ID,
		WorkflowName: firstNonEmpty(raw.WorkflowName, raw.Name),
		Branch:       firstNonEmpty(raw.Branch, raw.HeadBranch),
		Actor:        normalizeActor(raw),
		Event:        raw.Event,
		Conclusion:   strings.ToLower(raw.Conclusion),
		CreatedAt:    parseTimestamp(raw.CreatedAt),
		Duration:     raw.Duration,
		CommitSHA:    firstNonEmpty(raw.CommitSHA, raw.HeadSHA),
		HTMLURL:      raw.HTMLURL,
	}

	// Derive duration from the start/update timestamps when the
	// backend did not compute one.
	if run.Duration <= 0 {
		started := parseTimestamp(raw.RunStartedAt)
		updated := parseTimestamp(raw.UpdatedAt)

		if !started.IsZero() && !updated.IsZero() && updated.After(started) {
			run.Duration = updated.Sub(started).Seconds()
		}
	}

	for _, rj := range raw.Jobs {
		run.Jobs = append(run.Jobs, rj.Normalize())
	}

	return run
}

// Normalize converts a raw job record into the canonical Job.
func (raw *RawJob) Normalize() Job {
	job := Job{
		Name:       raw.Name,
		Conclusion: strings.ToLower(raw.Conclusion),
		Duration:   raw.Duration,
	}

	if job.Duration <= 0 {
		started := parseTimestamp(raw.StartedAt)
		completed := parseTimestamp(raw.CompletedAt)

		if !started.IsZero() && !completed.IsZero() && completed.After(started) {
			job.Duration = completed.Sub(started).Seconds()
		}
	}

	return job
}

// normalizeActor resolves the actor alias chain: a structured actor
// object (GitHub API shape), a plain triggering_actor string or object,
// then the legacy issuer_name field.
func normalizeActor(raw *RawRun) string {
	if name := actorName(raw.Actor); name != "" {
		return name
	}

	if name := actorName(raw.Triggering); name != "" {
		return name
	}

	return raw.IssuerName
}

// actorName extracts a login from either a JSON string or an object
// with a "login" (or "name") field.
func actorName(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	var obj struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}

	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Login != "" {
			return obj.Login
		}

		return obj.Name
	}

	return ""
}

// parseTimestamp accepts RFC3339 strings and epoch seconds (number or
// numeric string). Anything else yields the zero time.
func parseTimestamp(data json.RawMessage) time.Time {
	if len(data) == 0 {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}

		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
			return time.Unix(int64(secs), 0).UTC()
		}

		return time.Time{}
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil && secs > 0 {
		return time.Unix(int64(secs), 0).UTC()
	}

	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
