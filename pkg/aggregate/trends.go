package aggregate

import (
	"sort"
	"time"

	"github.com/actionsdash/actionsdash/pkg/model"
)

const (
	// trendWindow is the number of points on each side of a candidate
	// worsening boundary.
	trendWindow = 10

	// worseningFactor flags a boundary when the following window
	// exceeds the preceding window by more than this factor.
	worseningFactor = 1.5

	// maxWorseningPoints is the number of points surfaced to the UI.
	maxWorseningPoints = 3

	// minPointSpacing keeps selected points far enough apart that
	// they describe distinct regressions.
	minPointSpacing = 30 * 24 * time.Hour
)

// detectWorsening finds duration-explosion points over chronologically
// sorted runs and failure-worsening points over the daily series, then
// selects the most severe with a spacing constraint.
func detectWorsening(runs []model.Run, buckets []*dayBucket) []WorseningPoint {
	candidates := durationWorsening(runs)
	candidates = append(candidates, failureWorsening(buckets)...)

	return selectWorsening(candidates)
}

// durationWorsening slides a window over runs sorted by creation time
// and compares the median duration of the preceding window against
// the following one.
func durationWorsening(runs []model.Run) []WorseningPoint {
	ordered := make([]model.Run, 0, len(runs))

	for _, run := range runs {
		if !run.CreatedAt.IsZero() && run.HasDuration() {
			ordered = append(ordered, run)
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var points []WorseningPoint

	for i := trendWindow; i+trendWindow <= len(ordered); i++ {
		before := windowMedian(ordered[i-trendWindow : i])
		after := windowMedian(ordered[i : i+trendWindow])

		if before <= 0 || after <= worseningFactor*before {
			continue
		}

		boundary := ordered[i]

		points = append(points, WorseningPoint{
			Metric:    MetricDuration,
			At:        boundary.CreatedAt,
			Severity:  after / before,
			Before:    before,
			After:     after,
			CommitSHA: boundary.CommitSHA,
			HTMLURL:   boundary.HTMLURL,
		})
	}

	return points
}

// failureWorsening compares failure counts between the preceding and
// following windows of the daily series.
func failureWorsening(buckets []*dayBucket) []WorseningPoint {
	var points []WorseningPoint

	for i := trendWindow; i+trendWindow <= len(buckets); i++ {
		var before, after float64

		for _, b := range buckets[i-trendWindow : i] {
			before += float64(b.failures)
		}

		for _, b := range buckets[i : i+trendWindow] {
			after += float64(b.failures)
		}

		if before <= 0 || after <= worseningFactor*before {
			continue
		}

		points = append(points, WorseningPoint{
			Metric:   MetricFailureRate,
			At:       buckets[i].date,
			Severity: after / before,
			Before:   before,
			After:    after,
		})
	}

	return points
}

// selectWorsening picks up to maxWorseningPoints candidates ordered by
// severity descending. A candidate closer than minPointSpacing to any
// already-selected point is skipped; if the spacing constraint leaves
// fewer than the cap, the next most severe skipped candidates backfill
// regardless of spacing.
func selectWorsening(candidates []WorseningPoint) []WorseningPoint {
	if len(candidates) == 0 {
		return []WorseningPoint{}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Severity > candidates[j].Severity
	})

	selected := make([]WorseningPoint, 0, maxWorseningPoints)
	skipped := make([]WorseningPoint, 0, len(candidates))

	for _, c := range candidates {
		if len(selected) == maxWorseningPoints {
			break
		}

		if tooClose(c, selected) {
			skipped = append(skipped, c)

			continue
		}

		selected = append(selected, c)
	}

	// Backfill from the skipped candidates, most severe first.
	for _, c := range skipped {
		if len(selected) == maxWorseningPoints {
			break
		}

		selected = append(selected, c)
	}

	return selected
}

func tooClose(c WorseningPoint, selected []WorseningPoint) bool {
	for _, s := range selected {
		delta := c.At.Sub(s.At)
		if delta < 0 {
			delta = -delta
		}

		if delta < minPointSpacing {
			return true
		}
	}

	return false
}

func windowMedian(runs []model.Run) float64 {
	durations := make([]float64, 0, len(runs))
	for _, run := range runs {
		durations = append(durations, run.Duration)
	}

	return medianOf(sortedValid(durations))
}
