// Package threat converts qualifying critical readings into tracked
// incidents and manages their lifecycle.
package threat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinelgrid/internal/model"
)

// RandomSource supplies the gate draw. *math/rand.Rand satisfies it; tests
// inject a fixed source to force either outcome.
type RandomSource interface {
	Float64() float64
}

// Synthesizer gates threat creation behind a probability draw so a
// sustained critical condition does not produce one threat per tick.
type Synthesizer struct {
	logger   *slog.Logger
	registry *Registry
	gate     func() float64

	mu  sync.Mutex
	rnd RandomSource

	newID func() string
	now   func() time.Time
}

func NewSynthesizer(registry *Registry, logger *slog.Logger, rnd RandomSource, gate func() float64) *Synthesizer {
	if gate == nil {
		gate = func() float64 { return 0.3 }
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Synthesizer{
		logger:   logger,
		registry: registry,
		gate:     gate,
		rnd:      rnd,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// MaybeSynthesize creates a threat for a critical reading that passes the
// gate. Non-critical readings never synthesize regardless of anomaly score;
// classification and anomaly scoring are independent judgements.
func (s *Synthesizer) MaybeSynthesize(ctx context.Context, reading model.Reading, sensor model.Sensor, ar model.AnomalyResult) (model.Threat, bool) {
	if reading.Status != model.StatusCritical {
		return model.Threat{}, false
	}
	if !s.pass() {
		return model.Threat{}, false
	}

	detectedAt := reading.Timestamp
	if detectedAt.IsZero() {
		detectedAt = s.now()
	}
	t := model.Threat{
		ID:       s.newID(),
		Type:     TypeFor(sensor.Type),
		Severity: model.SeverityHigh,
		Location: model.Location{Name: sensor.Name, Zone: sensor.Zone},
		Status:   model.ThreatActive,
		// deterministic function of confidence, not a random draw
		RiskScore:      75 + ar.Confidence*25,
		RelatedSensors: []string{sensor.ID},
		DetectedAt:     detectedAt.UTC(),
		Description: fmt.Sprintf("%s: critical reading %.2f%s on %s",
			TypeFor(sensor.Type), reading.Value, reading.Unit, sensor.Name),
		Actions: []model.ThreatAction{
			{Timestamp: s.now().UTC(), Action: "created"},
		},
	}
	s.registry.Add(ctx, t)
	if s.logger != nil {
		s.logger.Warn("threat synthesized",
			"threat_id", t.ID,
			"type", t.Type,
			"sensor_id", sensor.ID,
			"zone", sensor.Zone,
			"risk_score", t.RiskScore,
		)
	}
	return t, true
}

func (s *Synthesizer) pass() bool {
	p := s.gate()
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	s.mu.Lock()
	draw := s.rnd.Float64()
	s.mu.Unlock()
	return draw < p
}

// TypeFor maps a sensor type to the human-readable threat label.
func TypeFor(sensorType string) string {
	switch sensorType {
	case "temperature":
		return "Thermal Anomaly"
	case "motion":
		return "Perimeter Intrusion"
	case "power":
		return "Power Disturbance"
	case "air_quality", "gas":
		return "Air Quality Hazard"
	case "door", "access":
		return "Unauthorized Access"
	case "vibration":
		return "Structural Disturbance"
	default:
		return "Sensor Anomaly"
	}
}
