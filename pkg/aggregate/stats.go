package aggregate

import (
	"math"
	"sort"
)

// The dashboard's percentile math is deliberately the simple
// sorted-index selection the charts were built against: index
// floor(n*p) of the ascending sort, no interpolation. Median on an
// even-length list is the lower-middle element. Changing this to a
// statistically standard definition would change every displayed
// number, so it stays.

// sortedValid returns the valid duration samples (> 0, non-NaN) in
// ascending order.
func sortedValid(values []float64) []float64 {
	out := make([]float64, 0, len(values))

	for _, v := range values {
		if v > 0 && !math.IsNaN(v) {
			out = append(out, v)
		}
	}

	sort.Float64s(out)

	return out
}

// medianOf returns the lower-middle element of an ascending-sorted
// list, or 0 for an empty list.
func medianOf(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	return sorted[len(sorted)/2]
}

// percentileOf returns the element at index floor(n*p) of an
// ascending-sorted list, clamped to the last element.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// meanOf returns the arithmetic mean, or 0 for an empty list.
func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// madOf returns the median absolute deviation: the median of
// |value - median| over the same list.
func madOf(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	med := medianOf(sorted)

	deviations := make([]float64, 0, len(sorted))
	for _, v := range sorted {
		deviations = append(deviations, math.Abs(v-med))
	}

	sort.Float64s(deviations)

	return medianOf(deviations)
}

// boxOf computes the five-number summary for a duration list. The
// input need not be sorted.
func boxOf(name string, values []float64) BoxStats {
	sorted := sortedValid(values)
	if len(sorted) == 0 {
		return BoxStats{Name: name}
	}

	return BoxStats{
		Name:    name,
		Min:     sorted[0],
		Q1:      percentileOf(sorted, 0.25),
		Median:  medianOf(sorted),
		Q3:      percentileOf(sorted, 0.75),
		Max:     sorted[len(sorted)-1],
		Samples: len(sorted),
	}
}
