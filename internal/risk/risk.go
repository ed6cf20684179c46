// Package risk derives zone risk from active threats and sensor health.
// It is pure and side-effect free; snapshots are recomputed on demand and
// never stored.
package risk

import (
	"time"

	"sentinelgrid/internal/model"
)

func severityWeight(s model.Severity) float64 {
	switch s {
	case model.SeverityCritical:
		return 4
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	default:
		return 1
	}
}

// ComputeZoneRisk combines threat severities with sensor health into a
// [0,100] score. Adding a critical sensor or a higher-severity threat can
// only raise the score.
func ComputeZoneRisk(zone string, activeThreats []model.Threat, health model.SensorHealth, now time.Time) model.ZoneRiskSnapshot {
	raw := 0.0
	for _, t := range activeThreats {
		raw += severityWeight(t.Severity)
	}
	raw += 2*float64(health.CriticalCount) + float64(health.WarningCount)

	maxPossible := 4*float64(len(activeThreats)) + 2*float64(health.SensorCount)
	score := 0.0
	if maxPossible > 0 {
		score = raw / maxPossible * 100
		if score > 100 {
			score = 100
		}
	}

	return model.ZoneRiskSnapshot{
		Zone:            zone,
		RiskScore:       score,
		RiskLevel:       levelFor(score),
		ThreatCount:     len(activeThreats),
		CriticalSensors: health.CriticalCount,
		WarningSensors:  health.WarningCount,
		ComputedAt:      now.UTC(),
	}
}

func levelFor(score float64) model.RiskLevel {
	switch {
	case score > 80:
		return model.RiskCritical
	case score > 60:
		return model.RiskHigh
	case score > 30:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}
