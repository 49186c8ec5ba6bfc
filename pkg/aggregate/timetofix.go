package aggregate

import (
	"sort"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// timeToFix measures how long each workflow stays broken: a fix
// interval opens at a failure conclusion and closes at the next
// success for the same workflow. Box stats are computed over the
// interval durations (seconds).
func timeToFix(runs []model.Run) []TimeToFix {
	byWorkflow := make(map[string][]model.Run)

	for _, run := range runs {
		if run.WorkflowName == "" || run.CreatedAt.IsZero() {
			continue
		}

		byWorkflow[run.WorkflowName] = append(byWorkflow[run.WorkflowName], run)
	}

	names := make([]string, 0, len(byWorkflow))
	for name := range byWorkflow {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]TimeToFix, 0, len(names))

	for _, name := range names {
		wruns := byWorkflow[name]

		sort.Slice(wruns, func(i, j int) bool {
			return wruns[i].CreatedAt.Before(wruns[j].CreatedAt)
		})

		intervals := fixIntervals(wruns)
		if len(intervals) == 0 {
			continue
		}

		out = append(out, TimeToFix{
			Workflow:  name,
			Intervals: len(intervals),
			Box:       boxOf(name, intervals),
		})
	}

	return out
}

// fixIntervals scans chronologically ordered runs and returns the
// durations (seconds) between each failure and the next success.
// Consecutive failures extend the open interval rather than starting
// new ones.
func fixIntervals(runs []model.Run) []float64 {
	var (
		intervals   []float64
		brokenSince *model.Run
	)

	for i := range runs {
		run := runs[i]

		switch run.Conclusion {
		case model.ConclusionFailure:
			if brokenSince == nil {
				brokenSince = &runs[i]
			}
		case model.ConclusionSuccess:
			if brokenSince != nil {
				delta := run.CreatedAt.Sub(brokenSince.CreatedAt).Seconds()
				if delta > 0 {
					intervals = append(intervals, delta)
				}

				brokenSince = nil
			}
		}
	}

	return intervals
}
