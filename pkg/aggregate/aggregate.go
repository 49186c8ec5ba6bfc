package aggregate

import "github.com/actionsdash/actionsdash/pkg/model"

// Aggregate computes the full view for a filtered run set. It is safe
// to call on any input, including nil: an empty input yields a zeroed
// view with empty collections, never an error.
func Aggregate(runs []model.Run) View {
	view := View{
		TotalRuns: len(runs),
	}

	var (
		successes int
		failures  int
		cancelled int
		skipped   int
		timedOut  int
		durations []float64
	)

	for _, run := range runs {
		switch run.Conclusion {
		case model.ConclusionSuccess:
			successes++
		case model.ConclusionFailure:
			failures++
		case model.ConclusionCancelled:
			cancelled++
		case model.ConclusionSkipped:
			skipped++
		case model.ConclusionTimedOut:
			timedOut++
		}

		if run.HasDuration() {
			durations = append(durations, run.Duration)
		}
	}

	// An empty input keeps every list empty, including the fixed
	// status buckets.
	view.StatusBreakdown = []StatusCount{}

	if view.TotalRuns > 0 {
		view.SuccessRate = float64(successes) / float64(view.TotalRuns)
		view.FailureRate = float64(failures) / float64(view.TotalRuns)

		view.StatusBreakdown = []StatusCount{
			{Status: model.ConclusionSuccess, Count: successes},
			{Status: model.ConclusionFailure, Count: failures},
			{Status: model.ConclusionCancelled, Count: cancelled},
			{Status: model.ConclusionSkipped, Count: skipped},
			{Status: model.ConclusionTimedOut, Count: timedOut},
		}
	}

	sorted := sortedValid(durations)
	view.AvgDuration = meanOf(sorted)
	view.MedianDuration = medianOf(sorted)
	view.DurationMAD = madOf(sorted)

	buckets := bucketByDay(runs)
	view.RunsOverTime = runsOverTime(buckets)
	view.FailureRateOverTime = failureRateOverTime(buckets)

	view.WorkflowStats = groupRunsBy(runs, func(r model.Run) string {
		return r.WorkflowName
	})
	view.BranchStats = groupRunsBy(runs, func(r model.Run) string {
		return r.Branch
	})
	view.EventStats = groupRunsBy(runs, func(r model.Run) string {
		return r.Event
	})
	view.ContributorStats = groupRunsBy(runs, func(r model.Run) string {
		return r.Actor
	})
	view.JobStats = groupJobs(runs)

	view.TopWorkflows = capTop(view.WorkflowStats, topListSize)
	view.TopBranches = capTop(view.BranchStats, topListSize)

	view.DurationBox = durationBoxes(runs)
	view.TimeToFix = timeToFix(runs)
	view.Spikes = detectSpikes(buckets)
	view.Worsening = detectWorsening(runs, buckets)

	return view
}
