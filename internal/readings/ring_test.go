package readings

import (
	"testing"
	"time"

	"sentinelgrid/internal/model"
)

func reading(sensorID string, i int, value float64, status model.SensorStatus) model.Reading {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return model.Reading{
		SensorID:  sensorID,
		Timestamp: base.Add(time.Duration(i) * time.Second),
		Value:     value,
		Status:    status,
	}
}

func TestRingEviction(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Add(reading("s1", i, float64(i), model.StatusNormal))
	}
	got := r.Recent("s1", 0)
	if len(got) != 3 {
		t.Fatalf("len: %d", len(got))
	}
	if got[0].Value != 2 || got[2].Value != 4 {
		t.Fatalf("window: %v..%v", got[0].Value, got[2].Value)
	}
}

func TestRecentChronologicalOrder(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 6; i++ {
		r.Add(reading("s1", i, float64(i*10), model.StatusNormal))
	}
	got := r.RecentValues("s1", 3)
	if len(got) != 3 || got[0] != 30 || got[1] != 40 || got[2] != 50 {
		t.Fatalf("recent values: %v", got)
	}
}

func TestRecentUnknownSensor(t *testing.T) {
	r := NewRing(10)
	if got := r.Recent("nope", 5); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestLatestTracksPerSensor(t *testing.T) {
	r := NewRing(10)
	r.Add(reading("s1", 0, 1, model.StatusNormal))
	r.Add(reading("s2", 0, 2, model.StatusNormal))
	r.Add(reading("s1", 1, 3, model.StatusWarning))

	got, ok := r.Latest("s1")
	if !ok || got.Value != 3 {
		t.Fatalf("latest s1: %v %v", got, ok)
	}
	if _, ok := r.Latest("s3"); ok {
		t.Fatalf("latest for unknown sensor")
	}
	if snap := r.Snapshot(); len(snap) != 2 {
		t.Fatalf("snapshot: %d", len(snap))
	}
}

func TestHealthCountsByZone(t *testing.T) {
	r := NewRing(10)
	r.Add(reading("a1", 0, 1, model.StatusCritical))
	r.Add(reading("a2", 0, 1, model.StatusWarning))
	r.Add(reading("b1", 0, 1, model.StatusNormal))

	zones := map[string]string{"a1": "zone-a", "a2": "zone-a", "b1": "zone-b"}
	zoneOf := func(id string) (string, bool) {
		z, ok := zones[id]
		return z, ok
	}

	all := r.Health("", zoneOf)
	if all.SensorCount != 3 || all.CriticalCount != 1 || all.WarningCount != 1 {
		t.Fatalf("all zones: %+v", all)
	}
	a := r.Health("zone-a", zoneOf)
	if a.SensorCount != 2 || a.CriticalCount != 1 || a.WarningCount != 1 {
		t.Fatalf("zone-a: %+v", a)
	}
	b := r.Health("zone-b", zoneOf)
	if b.SensorCount != 1 || b.CriticalCount != 0 {
		t.Fatalf("zone-b: %+v", b)
	}
}

func TestClear(t *testing.T) {
	r := NewRing(10)
	r.Add(reading("s1", 0, 1, model.StatusNormal))
	r.Clear()
	if len(r.Snapshot()) != 0 || len(r.Recent("s1", 0)) != 0 {
		t.Fatalf("clear left data behind")
	}
}
