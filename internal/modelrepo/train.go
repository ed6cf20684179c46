package modelrepo

import (
	"math"
	"sort"
	"time"

	"sentinelgrid/internal/model"
)

// Train builds a baseline from chronological samples (oldest first).
// Returns false when there are fewer than minSamples readings; that is the
// normal "no model" state, not a failure.
func Train(sensorID string, samples []model.Reading, minSamples, trendWindow int, now time.Time) (model.SensorModel, bool) {
	if minSamples <= 0 {
		minSamples = 10
	}
	if len(samples) < minSamples {
		return model.SensorModel{}, false
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}

	mean := meanOf(values)
	variance := populationVariance(values, mean)
	stddev := math.Sqrt(variance)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	trend := values
	if trendWindow > 1 && len(values) > trendWindow {
		trend = values[len(values)-trendWindow:]
	}

	return model.SensorModel{
		SensorID:    sensorID,
		Mean:        mean,
		StdDev:      stddev,
		Variance:    variance,
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		P1:          percentile(sorted, 0.01),
		P5:          percentile(sorted, 0.05),
		P95:         percentile(sorted, 0.95),
		P99:         percentile(sorted, 0.99),
		TrendSlope:  olsSlope(trend),
		SampleSize:  len(values),
		LastTrained: now.UTC(),
	}, true
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func populationVariance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

// percentile does a sorted-index lookup: index = floor(p × n).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// olsSlope fits value = a + slope×i over the sample index by ordinary
// least squares. Fewer than 2 points have no trend.
func olsSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}
