// Package readings keeps a bounded in-memory window of recent readings per
// sensor. It backs the scorer's short-term-change signal, snapshot requests
// from reconnecting observers, and model training when no SQL history is
// wired.
package readings

import (
	"sync"

	"sentinelgrid/internal/model"
)

type Ring struct {
	mu       sync.RWMutex
	bySensor map[string][]model.Reading
	latest   map[string]model.Reading
	limit    int
}

func NewRing(limit int) *Ring {
	if limit <= 0 {
		limit = 1000
	}
	return &Ring{
		bySensor: make(map[string][]model.Reading),
		latest:   make(map[string]model.Reading),
		limit:    limit,
	}
}

func (r *Ring) Add(reading model.Reading) {
	if reading.SensorID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.bySensor[reading.SensorID]
	if len(buf) < r.limit {
		buf = append(buf, reading)
	} else {
		copy(buf, buf[1:])
		buf[len(buf)-1] = reading
	}
	r.bySensor[reading.SensorID] = buf
	r.latest[reading.SensorID] = reading
}

// Recent returns up to n readings for the sensor in chronological order,
// oldest first.
func (r *Ring) Recent(sensorID string, n int) []model.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf := r.bySensor[sensorID]
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]model.Reading, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// RecentValues is Recent restricted to the measured values.
func (r *Ring) RecentValues(sensorID string, n int) []float64 {
	rs := r.Recent(sensorID, n)
	out := make([]float64, len(rs))
	for i, reading := range rs {
		out[i] = reading.Value
	}
	return out
}

func (r *Ring) Latest(sensorID string) (model.Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reading, ok := r.latest[sensorID]
	return reading, ok
}

// Snapshot returns the latest reading of every sensor that has reported.
func (r *Ring) Snapshot() []model.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Reading, 0, len(r.latest))
	for _, reading := range r.latest {
		out = append(out, reading)
	}
	return out
}

// Health classifies the latest reading per sensor, optionally restricted to
// one zone via the sensor lookup. A nil zoneOf counts every sensor.
func (r *Ring) Health(zone string, zoneOf func(sensorID string) (string, bool)) model.SensorHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var health model.SensorHealth
	for id, reading := range r.latest {
		if zoneOf != nil {
			z, ok := zoneOf(id)
			if !ok {
				continue
			}
			if zone != "" && z != zone {
				continue
			}
		}
		health.SensorCount++
		switch reading.Status {
		case model.StatusCritical:
			health.CriticalCount++
		case model.StatusWarning:
			health.WarningCount++
		}
	}
	return health
}

func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySensor = make(map[string][]model.Reading)
	r.latest = make(map[string]model.Reading)
}
