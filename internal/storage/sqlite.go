package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sentinelgrid/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sentinelgrid.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT,
			status TEXT NOT NULL,
			anomaly_score REAL NOT NULL,
			quality REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, ts)`,
		`CREATE TABLE IF NOT EXISTS threats (
			id TEXT PRIMARY KEY,
			detected_at TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			escalation_level INTEGER NOT NULL,
			risk_score REAL NOT NULL,
			zone TEXT,
			body_json TEXT NOT NULL
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

func (s *sqliteStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (sensor_id, ts, value, unit, status, anomaly_score, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error) {
	if s.db == nil || sensorID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_id, ts, value, unit, status, anomaly_score, quality
		FROM readings WHERE sensor_id = ? ORDER BY ts DESC LIMIT ?`,
		sensorID, limit)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

func (s *sqliteStore) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) SaveThreat(ctx context.Context, t model.Threat) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threats (id, detected_at, type, severity, status, escalation_level, risk_score, zone, body_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			severity = excluded.severity,
			escalation_level = excluded.escalation_level,
			risk_score = excluded.risk_score,
			body_json = excluded.body_json`,
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
