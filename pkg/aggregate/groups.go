package aggregate

import (
	"sort"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// topListSize caps the chart-bound workflow and branch lists to the
// busiest entries. Table views keep the full lists.
const topListSize = 10

// groupAccumulator collects one group key's runs before stats are
// computed.
type groupAccumulator struct {
	stats     GroupStats
	durations []float64
}

type groupMap map[string]*groupAccumulator

func (g groupMap) add(key, conclusion string, duration float64) {
	// Runs missing the grouping field contribute nothing to that
	// dimension.
	if key == "" {
		return
	}

	acc, ok := g[key]
	if !ok {
		acc = &groupAccumulator{stats: GroupStats{Name: key}}
		g[key] = acc
	}

	acc.stats.Count++

	switch conclusion {
	case model.ConclusionFailure:
		acc.stats.Failures++
	case model.ConclusionSkipped:
		acc.stats.Skipped++
	case model.ConclusionCancelled:
		acc.stats.Cancelled++
	case model.ConclusionTimedOut:
		acc.stats.TimedOut++
	}

	if duration > 0 {
		acc.durations = append(acc.durations, duration)
		acc.stats.TotalDuration += duration
	}
}

// finish computes medians and returns the groups sorted by run count
// descending, name ascending as the tie-break for determinism.
func (g groupMap) finish() []GroupStats {
	out := make([]GroupStats, 0, len(g))

	for _, acc := range g {
		acc.stats.MedianDuration = medianOf(sortedValid(acc.durations))
		out = append(out, acc.stats)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Name < out[j].Name
	})

	return out
}

// groupRunsBy aggregates runs along one dimension.
func groupRunsBy(runs []model.Run, key func(model.Run) string) []GroupStats {
	groups := make(groupMap)

	for _, run := range runs {
		groups.add(key(run), run.Conclusion, run.Duration)
	}

	return groups.finish()
}

// groupJobs aggregates the attached jobs of all runs by job name.
func groupJobs(runs []model.Run) []GroupStats {
	groups := make(groupMap)

	for _, run := range runs {
		for _, job := range run.Jobs {
			groups.add(job.Name, job.Conclusion, job.Duration)
		}
	}

	return groups.finish()
}

// capTop returns the first n entries of an already-sorted group list.
func capTop(groups []GroupStats, n int) []GroupStats {
	if len(groups) <= n {
		return groups
	}

	return groups[:n]
}

// durationBoxes computes per-workflow box-plot statistics.
func durationBoxes(runs []model.Run) []BoxStats {
	byWorkflow := make(map[string][]float64)

	for _, run := range runs {
		if run.WorkflowName == "" || !run.HasDuration() {
			continue
		}

		byWorkflow[run.WorkflowName] = append(
			byWorkflow[run.WorkflowName], run.Duration,
		)
	}

	names := make([]string, 0, len(byWorkflow))
	for name := range byWorkflow {
		names = append(names, name)
	}

	sort.Strings(names)

	boxes := make([]BoxStats, 0, len(names))
	for _, name := range names {
		boxes = append(boxes, boxOf(name, byWorkflow[name]))
	}

	return boxes
}
