// Package ingest feeds externally produced readings into the pipeline.
package ingest

import (
	"context"
	"log/slog"
	"time"
)

// Submission is one externally supplied reading before validation against
// the sensor registry.
type Submission struct {
	SensorID  string
	Value     float64
	Unit      string
	Timestamp time.Time
	Quality   *float64
	Source    string
}

// SendNonBlocking hands a submission to the pipeline channel without ever
// blocking the source; when the channel is full the submission is dropped
// and logged.
func SendNonBlocking(ctx context.Context, out chan<- Submission, sub Submission, logger *slog.Logger) bool {
	select {
	case out <- sub:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("ingest channel full, dropping reading", "sensor_id", sub.SensorID, "source", sub.Source)
		}
		return false
	}
}

// BackoffSleep waits d (or 200ms) unless the context ends first.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
