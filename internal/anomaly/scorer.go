// Package anomaly scores readings against their sensor's statistical
// baseline. Scoring is a pure function of (value, model, recent window);
// the Service wrapper adds model lookup and latest-result caching.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"sentinelgrid/internal/model"
)

const ReasonNoModel = "no model available"

// Score accumulates four independent signals in a fixed order so reason
// ordering is deterministic: z-score, percentile extremity, short-term
// change against the recent window, trend deviation. The sum is clipped
// to 1.0.
func Score(value float64, m model.SensorModel, recent []float64, threshold float64, now time.Time) model.AnomalyResult {
	result := model.AnomalyResult{SensorID: m.SensorID, ScoredAt: now.UTC()}
	score := 0.0

	if m.StdDev > 0 {
		z := math.Abs(value-m.Mean) / m.StdDev
		if z > 3 {
			score += 0.4
			result.Reasons = append(result.Reasons, fmt.Sprintf("z-score %.2f exceeds 3 sigma", z))
		} else if z > 2 {
			score += 0.2
			result.Reasons = append(result.Reasons, fmt.Sprintf("z-score %.2f exceeds 2 sigma", z))
		}
	}

	if value < m.P1 || value > m.P99 {
		score += 0.3
		result.Reasons = append(result.Reasons, "outside p1-p99 band")
	} else if value < m.P5 || value > m.P95 {
		score += 0.1
		result.Reasons = append(result.Reasons, "outside p5-p95 band")
	}

	if len(recent) > 0 {
		recentMean := 0.0
		for _, v := range recent {
			recentMean += v
		}
		recentMean /= float64(len(recent))
		if recentMean != 0 {
			change := math.Abs(value-recentMean) / math.Abs(recentMean)
			if change > 0.5 {
				score += 0.3
				result.Reasons = append(result.Reasons, fmt.Sprintf("%.0f%% change vs recent mean", change*100))
			} else if change > 0.2 {
				score += 0.1
				result.Reasons = append(result.Reasons, fmt.Sprintf("%.0f%% change vs recent mean", change*100))
			}
		}
	}

	if m.StdDev > 0 {
		projected := m.Mean + m.TrendSlope*10
		if math.Abs(value-projected) > 2*m.StdDev {
			score += 0.2
			result.Reasons = append(result.Reasons, "deviates from trend projection")
		}
	}

	if score > 1 {
		score = 1
	}
	result.Score = score
	result.IsAnomaly = score > threshold
	result.Confidence = math.Min(score*1.2, 1.0)
	return result
}

// NoModel is the valid, non-blocking outcome when a sensor has no baseline.
func NoModel(sensorID string, now time.Time) model.AnomalyResult {
	return model.AnomalyResult{
		SensorID: sensorID,
		Reasons:  []string{ReasonNoModel},
		ScoredAt: now.UTC(),
	}
}
