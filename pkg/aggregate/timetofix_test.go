package aggregate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsdash/actionsdash/pkg/aggregate"
	"github.com/actionsdash/actionsdash/pkg/model"
)

func TestTimeToFix_FailureToNextSuccess(t *testing.T) {
	at := func(h int) time.Time {
		return day(1).Add(time.Duration(h) * time.Hour)
	}

	runs := []model.Run{
		{ID: 1, WorkflowName: "CI", Conclusion: model.ConclusionSuccess, CreatedAt: at(0)},
		{ID: 2, WorkflowName: "CI", Conclusion: model.ConclusionFailure, CreatedAt: at(1)},
		{ID: 3, WorkflowName: "CI", Conclusion: model.ConclusionFailure, CreatedAt: at(2)},
		{ID: 4, WorkflowName: "CI", Conclusion: model.ConclusionSuccess, CreatedAt: at(3)},
		{ID: 5, WorkflowName: "CI", Conclusion: model.ConclusionFailure, CreatedAt: at(5)},
		{ID: 6, WorkflowName: "CI", Conclusion: model.ConclusionSuccess, CreatedAt: at(6)},
	}

	view := aggregate.Aggregate(runs)

	require.Len(t, view.TimeToFix, 1)
	ttf := view.TimeToFix[0]

	assert.Equal(t, "CI", ttf.Workflow)

	// Consecutive failures extend one open interval: the first spans
	// hours 1-3 (two hours), the second hours 5-6 (one hour).
	assert.Equal(t, 2, ttf.Intervals)
	assert.InDelta(t, 3600, ttf.Box.Min, 0.0001)
	assert.InDelta(t, 7200, ttf.Box.Max, 0.0001)
}

func TestTimeToFix_PerWorkflowIsolation(t *testing.T) {
	at := func(h int) time.Time {
		return day(1).Add(time.Duration(h) * time.Hour)
	}

	runs := []model.Run{
		// Workflow A fails and recovers.
		{ID: 1, WorkflowName: "A", Conclusion: model.ConclusionFailure, CreatedAt: at(0)},
		{ID: 2, WorkflowName: "A", Conclusion: model.ConclusionSuccess, CreatedAt: at(4)},
		// Workflow B fails and never recovers: no interval closes.
		{ID: 3, WorkflowName: "B", Conclusion: model.ConclusionFailure, CreatedAt: at(1)},
		{ID: 4, WorkflowName: "B", Conclusion: model.ConclusionFailure, CreatedAt: at(2)},
		// A later success of workflow A must not close B's interval.
		{ID: 5, WorkflowName: "A", Conclusion: model.ConclusionSuccess, CreatedAt: at(5)},
	}

	view := aggregate.Aggregate(runs)

	require.Len(t, view.TimeToFix, 1, "unrecovered workflows produce no entry")
	assert.Equal(t, "A", view.TimeToFix[0].Workflow)
	assert.Equal(t, 1, view.TimeToFix[0].Intervals)
	assert.InDelta(t, 4*3600, view.TimeToFix[0].Box.Median, 0.0001)
}

func TestTimeToFix_OutOfOrderInput(t *testing.T) {
	at := func(h int) time.Time {
		return day(1).Add(time.Duration(h) * time.Hour)
	}

	// Runs arrive out of chronological order; the scan sorts first.
	runs := []model.Run{
		{ID: 2, WorkflowName: "CI", Conclusion: model.ConclusionSuccess, CreatedAt: at(3)},
		{ID: 1, WorkflowName: "CI", Conclusion: model.ConclusionFailure, CreatedAt: at(1)},
	}

	view := aggregate.Aggregate(runs)

	require.Len(t, view.TimeToFix, 1)
	assert.InDelta(t, 2*3600, view.TimeToFix[0].Box.Median, 0.0001)
}
