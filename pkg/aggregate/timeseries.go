package aggregate

import (
	"sort"
	"time"

	"github.com/actionsdash/actionsdash/pkg/model"
)

// dayBucket accumulates one calendar day's runs before the per-day
// statistics are computed.
type dayBucket struct {
	date      time.Time
	count     int
	successes int
	failures  int
	durations []float64
}

// bucketByDay groups runs into UTC calendar-day buckets, sorted
// ascending by date. Runs without a parseable creation time are
// dropped from the series.
func bucketByDay(runs []model.Run) []*dayBucket {
	byDay := make(map[time.Time]*dayBucket)

	for _, run := range runs {
		if run.CreatedAt.IsZero() {
			continue
		}

		day := run.Day()

		bucket, ok := byDay[day]
		if !ok {
			bucket = &dayBucket{date: day}
			byDay[day] = bucket
		}

		bucket.count++

		switch run.Conclusion {
		case model.ConclusionSuccess:
			bucket.successes++
		case model.ConclusionFailure:
			bucket.failures++
		}

		if run.HasDuration() {
			bucket.durations = append(bucket.durations, run.Duration)
		}
	}

	buckets := make([]*dayBucket, 0, len(byDay))
	for _, b := range byDay {
		buckets = append(buckets, b)
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].date.Before(buckets[j].date)
	})

	return buckets
}

func (b *dayBucket) failureRate() float64 {
	if b.count == 0 {
		return 0
	}

	return float64(b.failures) / float64(b.count)
}

func (b *dayBucket) avgDuration() float64 {
	return meanOf(b.durations)
}

// runsOverTime converts day buckets into the chart series.
func runsOverTime(buckets []*dayBucket) []DayPoint {
	points := make([]DayPoint, 0, len(buckets))

	for _, b := range buckets {
		sorted := sortedValid(b.durations)

		point := DayPoint{
			Date:           b.date,
			Count:          b.count,
			Successes:      b.successes,
			Failures:       b.failures,
			AvgDuration:    meanOf(sorted),
			MedianDuration: medianOf(sorted),
		}

		if len(sorted) > 0 {
			point.MinDuration = sorted[0]
			point.MaxDuration = sorted[len(sorted)-1]
		}

		points = append(points, point)
	}

	return points
}

// failureRateOverTime derives the daily failure-rate series from the
// same buckets.
func failureRateOverTime(buckets []*dayBucket) []RatePoint {
	points := make([]RatePoint, 0, len(buckets))

	for _, b := range buckets {
		points = append(points, RatePoint{
			Date:        b.date,
			FailureRate: b.failureRate(),
			Failures:    b.failures,
			Count:       b.count,
		})
	}

	return points
}
