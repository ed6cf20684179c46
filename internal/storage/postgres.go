package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sentinelgrid/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sentinelgrid?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			sensor_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			unit TEXT,
			status TEXT NOT NULL,
			anomaly_score DOUBLE PRECISION NOT NULL,
			quality DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, ts)`,
		`CREATE TABLE IF NOT EXISTS threats (
			id TEXT PRIMARY KEY,
			detected_at TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			escalation_level INTEGER NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			zone TEXT,
			body_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threats_status ON threats(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (sensor_id, ts, value, unit, status, anomaly_score, quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.SensorID,
		r.Timestamp.UTC(),
		r.Value,
		r.Unit,
		string(r.Status),
		r.AnomalyScore,
		r.Quality,
	)
	return err
}

func (s *postgresStore) RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error) {
	if s.db == nil || sensorID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_id, ts, value, unit, status, anomaly_score, quality
		FROM readings WHERE sensor_id = $1 ORDER BY ts DESC LIMIT $2`,
		sensorID, limit)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

func (s *postgresStore) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *postgresStore) SaveThreat(ctx context.Context, t model.Threat) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threats (id, detected_at, type, severity, status, escalation_level, risk_score, zone, body_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			severity = EXCLUDED.severity,
			escalation_level = EXCLUDED.escalation_level,
			risk_score = EXCLUDED.risk_score,
			body_json = EXCLUDED.body_json`,
		t.ID,
		t.DetectedAt.UTC(),
		t.Type,
		string(t.Severity),
		string(t.Status),
		t.EscalationLevel,
		t.RiskScore,
		t.Location.Zone,
		encodeJSON(t),
	)
	return err
}
