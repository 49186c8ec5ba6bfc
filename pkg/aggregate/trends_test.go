package aggregate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsdash/actionsdash/pkg/aggregate"
	"github.com/actionsdash/actionsdash/pkg/model"
)

// stepRuns builds one successful run per day with the duration taken
// from the step schedule: durations[i] applies from day offsets[i]
// onward.
func stepRuns(days int, offsets []int, durations []float64) []model.Run {
	runs := make([]model.Run, 0, days)

	for d := 0; d < days; d++ {
		duration := durations[0]

		for i, off := range offsets {
			if d >= off {
				duration = durations[i]
			}
		}

		runs = append(runs, model.Run{
			ID:         int64(d + 1),
			Conclusion: model.ConclusionSuccess,
			CreatedAt:  day(1).Add(time.Duration(d) * 24 * time.Hour),
			Duration:   duration,
			CommitSHA:  "sha-" + string(rune('a'+d%26)),
			HTMLURL:    "https://example.test/run",
		})
	}

	return runs
}

func TestWorsening_DetectsDurationExplosion(t *testing.T) {
	// Forty daily runs; duration doubles at day 20.
	runs := stepRuns(40, []int{0, 20}, []float64{100, 200})

	view := aggregate.Aggregate(runs)

	require.NotEmpty(t, view.Worsening)

	for _, p := range view.Worsening {
		assert.Equal(t, aggregate.MetricDuration, p.Metric)
		assert.Greater(t, p.Severity, 1.5)
		assert.NotEmpty(t, p.CommitSHA, "selected points carry the boundary commit")
	}
}

func TestWorsening_NoFalsePositivesOnFlatSeries(t *testing.T) {
	runs := stepRuns(40, []int{0}, []float64{100})

	view := aggregate.Aggregate(runs)
	assert.Empty(t, view.Worsening)
}

func TestWorsening_SpacingPrefersDistantPoints(t *testing.T) {
	// Two regressions: a severe one (x3) around day 20 and a milder
	// one (x2) around day 80. Without the spacing rule the top three
	// candidates would all cluster around day 20.
	runs := stepRuns(100, []int{0, 20, 80}, []float64{100, 300, 600})

	view := aggregate.Aggregate(runs)
	require.Len(t, view.Worsening, 3)

	// The most severe point comes from the first cluster.
	first := view.Worsening[0]
	assert.InDelta(t, 3.0, first.Severity, 0.0001)

	// The spacing rule forces at least one selected point out of the
	// first cluster and into the day-80 regression.
	var foundDistant bool

	for _, p := range view.Worsening[1:] {
		if p.At.Sub(first.At) >= 30*24*time.Hour || first.At.Sub(p.At) >= 30*24*time.Hour {
			foundDistant = true
		}
	}

	assert.True(t, foundDistant,
		"selection must include a point at least 30 days from the most severe one")
}

func TestWorsening_BackfillWhenSpacingImpossible(t *testing.T) {
	// All candidates cluster inside a single fortnight, so only one
	// satisfies spacing; the rest backfill regardless.
	runs := stepRuns(40, []int{0, 20}, []float64{100, 250})

	view := aggregate.Aggregate(runs)
	assert.Len(t, view.Worsening, 3,
		"backfill tops the selection up when spacing leaves fewer than three")
}

func TestWorsening_FailureRateMetric(t *testing.T) {
	// Thirty days: no failures in the first half, heavy failures in
	// the second. Durations are flat so only the failure metric fires.
	var runs []model.Run

	id := int64(0)

	for d := 0; d < 30; d++ {
		failures := 0
		if d >= 15 {
			failures = 5
		}

		for i := 0; i < 6; i++ {
			conclusion := model.ConclusionSuccess
			if i < failures {
				conclusion = model.ConclusionFailure
			}

			id++
			runs = append(runs, model.Run{
				ID:         id,
				Conclusion: conclusion,
				CreatedAt:  day(1).Add(time.Duration(d) * 24 * time.Hour),
				Duration:   100,
			})
		}
	}

	view := aggregate.Aggregate(runs)

	require.NotEmpty(t, view.Worsening)

	var foundFailureMetric bool

	for _, p := range view.Worsening {
		if p.Metric == aggregate.MetricFailureRate {
			foundFailureMetric = true

			assert.Greater(t, p.After, 1.5*p.Before)
		}
	}

	assert.True(t, foundFailureMetric)
}
