// Package stream implements the inbound telemetry protocol: a
// WebSocket stream of workflow-run messages from the companion
// backend, plus a paged HTTP fallback for backends without streaming.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// MessageType tags each inbound frame.
type MessageType string

// Inbound message types.
const (
	MessageRuns          MessageType = "runs"
	MessagePhaseComplete MessageType = "phase_complete"
	MessageJobProgress   MessageType = "job_progress"
	MessageComplete      MessageType = "complete"
	MessageError         MessageType = "error"
	MessageLog           MessageType = "log"
)

// Collection phases reported by the backend.
const (
	PhaseRuns = "runs"
	PhaseJobs = "jobs"
)

// Message is one decoded inbound frame. Exactly one payload pointer is
// set, matching Type; unknown types decode to a bare Message so newer
// backends do not break older clients.
type Message struct {
	Type          MessageType
	Runs          *RunsPayload
	PhaseComplete *PhaseCompletePayload
	JobProgress   *JobProgressPayload
	Complete      *CompletePayload
	Error         *ErrorPayload
	Log           *LogPayload
}

// RunsPayload carries one page of run records during the run-metadata
// phase.
type RunsPayload struct {
	Page        int            `json:"page"`
	Runs        []model.RawRun `json:"runs"`
	TotalRuns   int            `json:"totalRuns"`
	Phase       string         `json:"phase"`
	HasMore     bool           `json:"hasMore"`
	ElapsedTime float64        `json:"elapsed_time,omitempty"`
	ETASeconds  float64        `json:"eta_seconds,omitempty"`
}

// PhaseCompletePayload signals the transition from run collection to
// job collection.
type PhaseCompletePayload struct {
	Phase       string  `json:"phase"`
	TotalRuns   int     `json:"totalRuns"`
	ElapsedTime float64 `json:"elapsed_time,omitempty"`
}

// JobProgressPayload carries job-detail updates during the second
// phase. Updated run records (same ids, jobs attached) ride along in
// Runs.
type JobProgressPayload struct {
	RunsProcessed int            `json:"runs_processed"`
	TotalRuns     int            `json:"total_runs"`
	JobsCollected int            `json:"jobs_collected"`
	ElapsedTime   float64        `json:"elapsed_time,omitempty"`
	ETASeconds    float64        `json:"eta_seconds,omitempty"`
	Runs          []model.RawRun `json:"runs,omitempty"`
}

// CompletePayload signals the end of the stream.
type CompletePayload struct {
	TotalPages int `json:"totalPages"`
	TotalJobs  int `json:"totalJobs"`
}

// ErrorPayload carries a backend-reported failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

// LogPayload is informational and ignored by the session layer.
type LogPayload struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

// Decode parses one inbound frame.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return Message{}, fmt.Errorf("decoding message envelope: %w", err)
	}

	msg := Message{Type: head.Type}

	var err error

	switch head.Type {
	case MessageRuns:
		msg.Runs = &RunsPayload{}
		err = json.Unmarshal(data, msg.Runs)
	case MessagePhaseComplete:
		msg.PhaseComplete = &PhaseCompletePayload{}
		err = json.Unmarshal(data, msg.PhaseComplete)
	case MessageJobProgress:
		msg.JobProgress = &JobProgressPayload{}
		err = json.Unmarshal(data, msg.JobProgress)
	case MessageComplete:
		msg.Complete = &CompletePayload{}
		err = json.Unmarshal(data, msg.Complete)
	case MessageError:
		msg.Error = &ErrorPayload{}
		err = json.Unmarshal(data, msg.Error)
	case MessageLog:
		msg.Log = &LogPayload{}
		err = json.Unmarshal(data, msg.Log)
	default:
		// Unknown types pass through undecoded.
	}

	if err != nil {
		return Message{}, fmt.Errorf("decoding %s payload: %w", head.Type, err)
	}

	return msg, nil
}

// StartRequest is the first frame sent after the socket opens. Date
// filters are accepted by the backend but deliberately not used to
// narrow collection: the cache always holds a repository's full
// history and filtering happens client-side.
type StartRequest struct {
	Repo    string      `json:"repo"`
	Filters DateFilters `json:"filters"`
}

// DateFilters carries optional ISO date bounds.
type DateFilters struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}
