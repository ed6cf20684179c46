package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sentinelgrid/internal/config"
	"sentinelgrid/internal/model"
)

// Store is the SQL history tier: the training corpus for sensor models and
// the durable record of threats. The pipeline runs without it (history
// falls back to the in-memory ring), so a nil Store is a valid wiring.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReading(ctx context.Context, r model.Reading) error
	// RecentReadings returns up to limit readings for the sensor,
	// newest first.
	RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error)
	// DeleteReadingsBefore removes readings older than cutoff and reports
	// how many rows went away.
	DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SaveThreat(ctx context.Context, t model.Threat) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func scanReadings(rows *sql.Rows) ([]model.Reading, error) {
	defer rows.Close()
	out := make([]model.Reading, 0, 64)
	for rows.Next() {
		var r model.Reading
		var status string
		if err := rows.Scan(&r.SensorID, &r.Timestamp, &r.Value, &r.Unit, &status, &r.AnomalyScore, &r.Quality); err != nil {
			return nil, err
		}
		r.Status = model.SensorStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
