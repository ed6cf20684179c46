package anomaly

import (
	"context"
	"sync"
	"time"

	"sentinelgrid/internal/model"
	"sentinelgrid/internal/modelrepo"
	"sentinelgrid/internal/readings"
)

// Service scores readings with the repository's models and remembers the
// latest result per sensor for the query surface.
type Service struct {
	models    *modelrepo.Repository
	ring      *readings.Ring
	window    int
	threshold func() float64
	now       func() time.Time

	mu     sync.RWMutex
	latest map[string]model.AnomalyResult
}

func NewService(models *modelrepo.Repository, ring *readings.Ring, window int, threshold func() float64) *Service {
	if window <= 0 {
		window = 5
	}
	if threshold == nil {
		threshold = func() float64 { return 0.7 }
	}
	return &Service{
		models:    models,
		ring:      ring,
		window:    window,
		threshold: threshold,
		now:       time.Now,
		latest:    make(map[string]model.AnomalyResult),
	}
}

// ScoreValue scores a value that has not yet been appended to the ring, so
// the recent window holds only prior readings.
func (s *Service) ScoreValue(ctx context.Context, sensorID string, value float64) model.AnomalyResult {
	m, ok := s.models.GetOrTrain(ctx, sensorID)
	var result model.AnomalyResult
	if !ok {
		result = NoModel(sensorID, s.now())
	} else {
		recent := s.ring.RecentValues(sensorID, s.window)
		result = Score(value, m, recent, s.threshold(), s.now())
	}
	s.mu.Lock()
	s.latest[sensorID] = result
	s.mu.Unlock()
	return result
}

// Latest returns the most recent result for a sensor; the zero result when
// the sensor has never been scored.
func (s *Service) Latest(sensorID string) model.AnomalyResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.latest[sensorID]; ok {
		return r
	}
	return model.AnomalyResult{SensorID: sensorID, Reasons: []string{ReasonNoModel}}
}
