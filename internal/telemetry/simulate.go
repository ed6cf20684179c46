package telemetry

import (
	"math"
	"time"

	"sentinelgrid/internal/model"
)

// simulate produces a plausible value around the sensor's baseline: a
// time-of-day swing plus gaussian noise, with a rare excursion so the
// anomaly path sees traffic in demo deployments.
func (d *Driver) simulate(sensor model.Sensor, now time.Time) float64 {
	base := sensor.Baseline * timeOfDayMultiplier(now)

	d.rndMu.Lock()
	noise := d.rnd.NormFloat64()
	spike := d.rnd.Float64()
	d.rndMu.Unlock()

	value := base + noise*math.Abs(sensor.Baseline)*0.05
	if spike < 0.01 {
		value = base * 2.5
	}
	return value
}

// timeOfDayMultiplier models the daily load curve: a gentle peak in the
// afternoon, a trough before dawn.
func timeOfDayMultiplier(now time.Time) float64 {
	hour := float64(now.Hour()) + float64(now.Minute())/60
	return 1 + 0.1*math.Sin((hour-9)/24*2*math.Pi)
}
