package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentinelgrid/internal/config"
	"sentinelgrid/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStoreDisabled(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"})
	require.Error(t, err)
}

func TestReadingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveReading(ctx, model.Reading{
			SensorID:     "temp-01",
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Value:        20 + float64(i),
			Unit:         "C",
			Status:       model.StatusNormal,
			AnomalyScore: 0.1,
			Quality:      100,
		}))
	}
	require.NoError(t, s.SaveReading(ctx, model.Reading{
		SensorID: "other", Timestamp: base, Value: 1, Status: model.StatusNormal, Quality: 100,
	}))

	got, err := s.RecentReadings(ctx, "temp-01", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// newest first
	require.Equal(t, 24.0, got[0].Value)
	require.Equal(t, 22.0, got[2].Value)
	require.Equal(t, "temp-01", got[0].SensorID)
	require.Equal(t, model.StatusNormal, got[0].Status)
}

func TestRecentReadingsEmptySensor(t *testing.T) {
	s := newTestStore(t)
	got, err := s.RecentReadings(context.Background(), "ghost", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteReadingsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.SaveReading(ctx, model.Reading{
			SensorID: "s1", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Status: model.StatusNormal, Quality: 100,
		}))
	}
	n, err := s.DeleteReadingsBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := s.RecentReadings(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestThreatUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := model.Threat{
		ID:         "t1",
		Type:       "Thermal Anomaly",
		Severity:   model.SeverityHigh,
		Status:     model.ThreatActive,
		Location:   model.Location{Name: "Server Room", Zone: "zone-a"},
		RiskScore:  80,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveThreat(ctx, th))

	// lifecycle updates rewrite the same row
	th.Status = model.ThreatResolved
	th.EscalationLevel = 2
	require.NoError(t, s.SaveThreat(ctx, th))
}
