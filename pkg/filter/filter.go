// Package filter selects the subset of stored runs that feed the
// aggregation engine. Collection always pulls a repository's full
// history; every filter, including the date range, is applied here on
// the client side of the stream.
package filter

import (
	"time"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// All is the selection wildcard: a field whose selection is ["all"]
// passes every run through.
const All = "all"

// Spec describes the active filter selections. An empty selection on
// any field is never valid and collapses to ["all"] via Normalize.
type Spec struct {
	Workflows []string   `json:"workflows"`
	Branches  []string   `json:"branches"`
	Actors    []string   `json:"actors"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
}

// NewSpec returns a Spec with every field selection set to the
// wildcard and no date bounds.
func NewSpec() Spec {
	return Spec{
		Workflows: []string{All},
		Branches:  []string{All},
		Actors:    []string{All},
	}
}

// Normalize collapses empty selections to the wildcard, in place.
func (s *Spec) Normalize() {
	if len(s.Workflows) == 0 {
		s.Workflows = []string{All}
	}

	if len(s.Branches) == 0 {
		s.Branches = []string{All}
	}

	if len(s.Actors) == 0 {
		s.Actors = []string{All}
	}
}

// IsAll reports whether the spec filters nothing.
func (s *Spec) IsAll() bool {
	return isWildcard(s.Workflows) &&
		isWildcard(s.Branches) &&
		isWildcard(s.Actors) &&
		s.Start == nil && s.End == nil
}

// Apply returns the runs that pass every active filter. Field matches
// are exact and case-sensitive; runs missing a concretely filtered
// field are excluded by that filter. Date bounds are inclusive against
// CreatedAt; an absent bound leaves that side unbounded.
func Apply(runs []model.Run, spec Spec) []model.Run {
	spec.Normalize()

	if spec.IsAll() {
		return runs
	}

	workflows := selectionSet(spec.Workflows)
	branches := selectionSet(spec.Branches)
	actors := selectionSet(spec.Actors)

	out := make([]model.Run, 0, len(runs))

	for _, run := range runs {
		if workflows != nil && !workflows[run.WorkflowName] {
			continue
		}

		if branches != nil && !branches[run.Branch] {
			continue
		}

		if actors != nil && !actors[run.Actor] {
			continue
		}

		if !inDateRange(run.CreatedAt, spec.Start, spec.End) {
			continue
		}

		out = append(out, run)
	}

	return out
}

// selectionSet returns a membership set for a concrete selection, or
// nil when the selection is the wildcard.
func selectionSet(selection []string) map[string]bool {
	if isWildcard(selection) {
		return nil
	}

	set := make(map[string]bool, len(selection))
	for _, v := range selection {
		set[v] = true
	}

	return set
}

func isWildcard(selection []string) bool {
	for _, v := range selection {
		if v == All {
			return true
		}
	}

	return len(selection) == 0
}

func inDateRange(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}

	if end != nil && t.After(*end) {
		return false
	}

	return true
}
