package aggregate

import "fmt"

// Spike thresholds, applied strictly (a day exactly at the threshold
// is not flagged).
const (
	failureSpikeFactor   = 2.0
	durationSpikeFactor  = 1.5
	executionSpikeFactor = 1.8
)

// detectSpikes flags anomalous days against baselines computed as the
// mean across all days for failure rate, average duration, and run
// count. Anomaly types are classified in priority order (failure, then
// duration, then execution) and the first match wins.
func detectSpikes(buckets []*dayBucket) []Spike {
	if len(buckets) == 0 {
		return []Spike{}
	}

	var (
		baseFailureRate float64
		baseDuration    float64
		baseCount       float64
	)

	for _, b := range buckets {
		baseFailureRate += b.failureRate()
		baseDuration += b.avgDuration()
		baseCount += float64(b.count)
	}

	n := float64(len(buckets))
	baseFailureRate /= n
	baseDuration /= n
	baseCount /= n

	spikes := make([]Spike, 0)

	for _, b := range buckets {
		var (
			spikeType string
			detail    string
		)

		failureRate := b.failureRate()
		avgDuration := b.avgDuration()

		switch {
		case baseFailureRate > 0 && failureRate > failureSpikeFactor*baseFailureRate:
			spikeType = SpikeFailure
			detail = fmt.Sprintf(
				"failure rate %.1f%% is %.0f%% above the %.1f%% baseline",
				failureRate*100,
				percentAbove(failureRate, baseFailureRate),
				baseFailureRate*100,
			)
		case baseDuration > 0 && avgDuration > durationSpikeFactor*baseDuration:
			spikeType = SpikeDuration
			detail = fmt.Sprintf(
				"average duration %.0fs is %.0f%% above the %.0fs baseline",
				avgDuration,
				percentAbove(avgDuration, baseDuration),
				baseDuration,
			)
		case baseCount > 0 && float64(b.count) > executionSpikeFactor*baseCount:
			spikeType = SpikeExecution
			detail = fmt.Sprintf(
				"%d runs is %.0f%% above the %.1f baseline",
				b.count,
				percentAbove(float64(b.count), baseCount),
				baseCount,
			)
		default:
			continue
		}

		spikes = append(spikes, Spike{
			Date:        b.date,
			Type:        spikeType,
			Detail:      detail,
			FailureRate: failureRate,
			AvgDuration: avgDuration,
			Count:       b.count,
		})
	}

	return spikes
}

func percentAbove(value, baseline float64) float64 {
	return (value/baseline - 1) * 100
}
