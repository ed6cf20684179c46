package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"sentinelgrid/internal/anomaly"
	"sentinelgrid/internal/config"
	"sentinelgrid/internal/faults"
	"sentinelgrid/internal/ingest"
	"sentinelgrid/internal/kvstore"
	"sentinelgrid/internal/model"
	"sentinelgrid/internal/modelrepo"
	"sentinelgrid/internal/readings"
	"sentinelgrid/internal/threat"
)

type recordingHub struct {
	mu     sync.Mutex
	events []string
	rooms  []string
}

func (h *recordingHub) Publish(event string, payload any) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
}

func (h *recordingHub) PublishToRoom(room, event string, payload any) {
	h.mu.Lock()
	h.rooms = append(h.rooms, room+"/"+event)
	h.mu.Unlock()
}

func (h *recordingHub) Count() int { return 0 }

func (h *recordingHub) has(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

type alwaysPass struct{}

func (alwaysPass) Float64() float64 { return 0 }

func newTestDriver(t *testing.T, gate float64) (*Driver, *recordingHub, *threat.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Threats.GateProbability = gate
	mgr := config.NewStatic(cfg)

	ring := readings.NewRing(200)
	models, err := modelrepo.New(modelrepo.Options{
		History:    modelrepo.RingHistory{Ring: ring},
		CacheSize:  16,
		MinSamples: 10,
	})
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	scorer := anomaly.NewService(models, ring, 5, nil)
	registry := threat.NewRegistry(nil, nil)
	synth := threat.NewSynthesizer(registry, nil, alwaysPass{}, func() float64 {
		return mgr.Get().Threats.GateProbability
	})
	hub := &recordingHub{}

	d := New(Deps{
		Config:   mgr,
		Ring:     ring,
		Models:   models,
		Scorer:   scorer,
		Synth:    synth,
		Registry: registry,
		Hub:      hub,
	})
	return d, hub, registry
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) {
	return nil, faults.Degraded("kv get", context.DeadlineExceeded)
}

func (brokenKV) Set(context.Context, string, []byte, time.Duration) error {
	return faults.Degraded("kv set", context.DeadlineExceeded)
}

func (brokenKV) Delete(context.Context, string) error {
	return faults.Degraded("kv delete", context.DeadlineExceeded)
}

func (brokenKV) Publish(context.Context, string, []byte) error {
	return faults.Degraded("publish", context.DeadlineExceeded)
}

func (brokenKV) Subscribe(context.Context, string) (<-chan kvstore.Message, func(), error) {
	return nil, nil, faults.Degraded("subscribe", context.DeadlineExceeded)
}

func (brokenKV) Close() error { return nil }

func TestCreateReadingSurvivesKVOutage(t *testing.T) {
	d, hub, _ := newTestDriver(t, 0)
	d.kv = brokenKV{}

	got, err := d.CreateReading(context.Background(), "temp-01", 22, "", time.Time{}, 100)
	if err != nil {
		t.Fatalf("kv outage failed ingestion: %v", err)
	}
	if got.SensorID != "temp-01" || got.Status != model.StatusNormal {
		t.Fatalf("reading: %+v", got)
	}
	if !hub.has("new-sensor-reading") {
		t.Fatalf("reading not published despite kv outage")
	}
}

func TestClassify(t *testing.T) {
	sensor := model.Sensor{WarnLow: 16, WarnHigh: 28, CritLow: 10, CritHigh: 35}
	cases := []struct {
		value float64
		want  model.SensorStatus
	}{
		{22, model.StatusNormal},
		{16, model.StatusNormal},
		{28, model.StatusNormal},
		{15, model.StatusWarning},
		{30, model.StatusWarning},
		{9, model.StatusCritical},
		{36, model.StatusCritical},
	}
	for _, tc := range cases {
		if got := Classify(sensor, tc.value); got != tc.want {
			t.Fatalf("classify(%f): got %s want %s", tc.value, got, tc.want)
		}
	}
}

func TestCreateReadingUnknownSensor(t *testing.T) {
	d, _, _ := newTestDriver(t, 0)
	_, err := d.CreateReading(context.Background(), "nope", 1, "", time.Time{}, 100)
	if !faults.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateReadingQualityBounds(t *testing.T) {
	d, _, _ := newTestDriver(t, 0)
	if _, err := d.CreateReading(context.Background(), "temp-01", 22, "", time.Time{}, 120); !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := d.CreateReading(context.Background(), "temp-01", 22, "", time.Time{}, -1); !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateReadingDefaultsAndPublish(t *testing.T) {
	d, hub, _ := newTestDriver(t, 0)
	got, err := d.CreateReading(context.Background(), "temp-01", 22, "", time.Time{}, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.Unit != "C" {
		t.Fatalf("unit default: %s", got.Unit)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("timestamp default missing")
	}
	if got.Status != model.StatusNormal {
		t.Fatalf("status: %s", got.Status)
	}
	if !hub.has("new-sensor-reading") {
		t.Fatalf("reading not published: %v", hub.events)
	}
	if latest, ok := d.ring.Latest("temp-01"); !ok || latest.Value != 22 {
		t.Fatalf("reading not retained")
	}
}

func TestCriticalReadingSynthesizesThreat(t *testing.T) {
	d, hub, registry := newTestDriver(t, 1)
	got, err := d.CreateReading(context.Background(), "temp-01", 48, "", time.Time{}, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.Status != model.StatusCritical {
		t.Fatalf("status: %s", got.Status)
	}
	threats := registry.List(0)
	if len(threats) != 1 {
		t.Fatalf("threats: %d", len(threats))
	}
	if threats[0].Type != "Thermal Anomaly" || threats[0].Location.Zone != "zone-a" {
		t.Fatalf("threat: %+v", threats[0])
	}
	if !hub.has("new-threat") || !hub.has("threat-alert") {
		t.Fatalf("threat events missing: %v", hub.events)
	}
}

func TestCriticalReadingGateClosed(t *testing.T) {
	d, hub, registry := newTestDriver(t, 0)
	if _, err := d.CreateReading(context.Background(), "temp-01", 48, "", time.Time{}, 100); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(registry.List(0)) != 0 {
		t.Fatalf("gate 0 synthesized a threat")
	}
	if hub.has("new-threat") {
		t.Fatalf("threat event with closed gate")
	}
}

func TestSubmitAdaptsSubmission(t *testing.T) {
	d, _, _ := newTestDriver(t, 0)
	q := 80.0
	got, err := d.Submit(context.Background(), ingest.Submission{
		SensorID: "power-01",
		Value:    41,
		Quality:  &q,
		Source:   "kafka",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Quality != 80 || got.Unit != "kW" {
		t.Fatalf("submission mapping: %+v", got)
	}
}

func TestZoneRiskReflectsSensorHealth(t *testing.T) {
	d, _, _ := newTestDriver(t, 0)
	quiet := d.ZoneRisk("zone-a")
	if quiet.RiskScore != 0 {
		t.Fatalf("quiet zone: %f", quiet.RiskScore)
	}

	if _, err := d.CreateReading(context.Background(), "temp-01", 48, "", time.Time{}, 100); err != nil {
		t.Fatalf("create: %v", err)
	}
	after := d.ZoneRisk("zone-a")
	if after.RiskScore <= quiet.RiskScore {
		t.Fatalf("critical sensor did not raise risk: %f", after.RiskScore)
	}
	if after.CriticalSensors != 1 {
		t.Fatalf("critical sensors: %d", after.CriticalSensors)
	}
	// zone-b is unaffected
	if other := d.ZoneRisk("zone-b"); other.RiskScore != 0 {
		t.Fatalf("zone-b: %f", other.RiskScore)
	}
}

func TestTickIsolatesFailingSensor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sensors = []model.Sensor{
		{
			ID: "good", Name: "Good", Type: "temperature", Zone: "zone-a", Unit: "C",
			Baseline: 22, WarnLow: -1000, WarnHigh: 1000, CritLow: -2000, CritHigh: 2000, Simulated: true,
		},
		{
			// crit_low above any simulated value, so every reading
			// classifies critical and hits the unwired synthesizer
			ID: "bad", Name: "Bad", Type: "power", Zone: "zone-a", Unit: "kW",
			Baseline: 40, WarnLow: -1000, WarnHigh: 1000, CritLow: 1e9, CritHigh: 2e9, Simulated: true,
		},
	}
	mgr := config.NewStatic(cfg)

	ring := readings.NewRing(100)
	models, err := modelrepo.New(modelrepo.Options{
		History:    modelrepo.RingHistory{Ring: ring},
		CacheSize:  16,
		MinSamples: 10,
	})
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	hub := &recordingHub{}
	d := New(Deps{
		Config:   mgr,
		Ring:     ring,
		Models:   models,
		Scorer:   anomaly.NewService(models, ring, 5, nil),
		Registry: threat.NewRegistry(nil, nil),
		Hub:      hub,
	})

	// the bad sensor panics mid-process; the tick must survive and the
	// healthy sensor's reading must still land
	d.tick(context.Background())

	if _, ok := ring.Latest("good"); !ok {
		t.Fatalf("failing sibling aborted the healthy sensor")
	}
	if !hub.has("new-sensor-reading") {
		t.Fatalf("healthy reading not published: %v", hub.events)
	}
	if hub.has("new-threat") {
		t.Fatalf("failed sensor still synthesized a threat")
	}
}

func TestTickPublishesStatusCadence(t *testing.T) {
	d, hub, _ := newTestDriver(t, 0)
	cfg := d.cfg.Get()
	for i := 0; i < cfg.Telemetry.StatusEveryTicks; i++ {
		d.tick(context.Background())
	}
	if !hub.has("system-status-update") {
		t.Fatalf("status cadence missing: %v", hub.events)
	}
	if !hub.has("new-sensor-reading") {
		t.Fatalf("simulated readings missing")
	}
}
