// Package telemetry runs the periodic loop that produces readings,
// classifies them, scores them, synthesizes threats and publishes events.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"sentinelgrid/internal/anomaly"
	"sentinelgrid/internal/config"
	"sentinelgrid/internal/faults"
	"sentinelgrid/internal/ingest"
	"sentinelgrid/internal/kvstore"
	"sentinelgrid/internal/metrics"
	"sentinelgrid/internal/model"
	"sentinelgrid/internal/modelrepo"
	"sentinelgrid/internal/readings"
	"sentinelgrid/internal/risk"
	"sentinelgrid/internal/storage"
	"sentinelgrid/internal/threat"
)

// Publisher is the slice of the fan-out hub the driver needs.
type Publisher interface {
	Publish(event string, payload any)
	PublishToRoom(room, event string, payload any)
	Count() int
}

type Deps struct {
	Config   *config.Manager
	Logger   *slog.Logger
	Metrics  *metrics.Pipeline // optional
	KV       kvstore.Store     // optional
	DB       storage.Store     // optional
	Ring     *readings.Ring
	Models   *modelrepo.Repository
	Scorer   *anomaly.Service
	Synth    *threat.Synthesizer
	Registry *threat.Registry
	Hub      Publisher
	In       <-chan ingest.Submission // optional external ingestion feed
	Rand     *rand.Rand               // optional, for simulation noise
}

type Driver struct {
	cfg      *config.Manager
	logger   *slog.Logger
	met      *metrics.Pipeline
	kv       kvstore.Store
	db       storage.Store
	ring     *readings.Ring
	models   *modelrepo.Repository
	scorer   *anomaly.Service
	synth    *threat.Synthesizer
	registry *threat.Registry
	hub      Publisher
	in       <-chan ingest.Submission

	sensorMu sync.RWMutex
	sensors  map[string]model.Sensor

	rndMu sync.Mutex
	rnd   *rand.Rand

	started   time.Time
	tickCount int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(deps Deps) *Driver {
	rnd := deps.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	d := &Driver{
		cfg:      deps.Config,
		logger:   deps.Logger,
		met:      deps.Metrics,
		kv:       deps.KV,
		db:       deps.DB,
		ring:     deps.Ring,
		models:   deps.Models,
		scorer:   deps.Scorer,
		synth:    deps.Synth,
		registry: deps.Registry,
		hub:      deps.Hub,
		in:       deps.In,
		sensors:  make(map[string]model.Sensor),
		rnd:      rnd,
	}
	for _, s := range deps.Config.Get().Sensors {
		d.sensors[s.ID] = s
	}
	return d
}

// Start launches the telemetry tick, the retention sweep and the external
// ingestion consumer. Stop (or context cancellation) shuts all three down.
func (d *Driver) Start(ctx context.Context) {
	d.started = time.Now().UTC()
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	cfg := d.cfg.Get()

	go func() {
		defer close(d.done)
		tick := time.NewTicker(cfg.Telemetry.SimulationInterval())
		defer tick.Stop()
		sweep := time.NewTicker(cfg.Retention.SweepInterval)
		defer sweep.Stop()
		for {
			select {
			case <-tick.C:
				d.tick(ctx)
			case <-sweep.C:
				d.retentionSweep(ctx)
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if d.in != nil {
		go func() {
			for {
				select {
				case sub, ok := <-d.in:
					if !ok {
						return
					}
					if _, err := d.Submit(ctx, sub); err != nil {
						if d.logger != nil {
							d.logger.Warn("ingested reading rejected", "sensor_id", sub.SensorID, "source", sub.Source, "err", err)
						}
					}
				case <-d.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

func (d *Driver) Stop() {
	if d.stop == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stop)
		<-d.done
	})
}

// tick produces one reading per simulated sensor. A sensor failing is
// logged and skipped; the rest of the batch still runs.
func (d *Driver) tick(ctx context.Context) {
	cfg := d.cfg.Get()
	now := time.Now().UTC()
	for _, sensor := range d.Sensors() {
		if !sensor.Simulated {
			continue
		}
		if err := d.tickSensor(ctx, sensor, now); err != nil {
			if d.met != nil {
				d.met.TickFailures.Inc()
			}
			if d.logger != nil {
				d.logger.Error("sensor tick failed", "sensor_id", sensor.ID, "err", err)
			}
		}
	}
	d.tickCount++
	if cfg.Telemetry.StatusEveryTicks > 0 && d.tickCount%cfg.Telemetry.StatusEveryTicks == 0 {
		d.hub.Publish("system-status-update", d.SystemSnapshot())
	}
}

func (d *Driver) tickSensor(ctx context.Context, sensor model.Sensor, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sensor %s panicked: %v", sensor.ID, r)
		}
	}()
	value := d.simulate(sensor, now)
	_, err = d.process(ctx, sensor, value, now, sensor.Unit, 100)
	return err
}

// CreateReading is the external ingestion entry point. Unknown sensors are
// a NotFound failure; everything downstream of validation degrades rather
// than fails.
func (d *Driver) CreateReading(ctx context.Context, sensorID string, value float64, unit string, ts time.Time, quality float64) (model.Reading, error) {
	sensor, ok := d.Sensor(sensorID)
	if !ok {
		return model.Reading{}, faults.NotFound("sensor", sensorID)
	}
	if unit == "" {
		unit = sensor.Unit
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	if quality < 0 || quality > 100 {
		return model.Reading{}, faults.Invalidf("quality %.1f outside [0,100]", quality)
	}
	return d.process(ctx, sensor, value, ts.UTC(), unit, quality)
}

// Submit adapts an ingest.Submission onto CreateReading.
func (d *Driver) Submit(ctx context.Context, sub ingest.Submission) (model.Reading, error) {
	quality := 100.0
	if sub.Quality != nil {
		quality = *sub.Quality
	}
	return d.CreateReading(ctx, sub.SensorID, sub.Value, sub.Unit, sub.Timestamp, quality)
}

// process runs one reading through the full pipeline: classify, score,
// retain, cache, synthesize, publish.
func (d *Driver) process(ctx context.Context, sensor model.Sensor, value float64, ts time.Time, unit string, quality float64) (model.Reading, error) {
	// score against the window of prior readings before this one lands
	result := d.scorer.ScoreValue(ctx, sensor.ID, value)

	reading := model.Reading{
		SensorID:     sensor.ID,
		Timestamp:    ts,
		Value:        value,
		Unit:         unit,
		Status:       Classify(sensor, value),
		AnomalyScore: result.Score,
		Quality:      quality,
	}
	d.ring.Add(reading)

	if d.met != nil {
		d.met.ReadingsProcessed.Inc()
		if result.IsAnomaly {
			d.met.AnomaliesFlagged.Inc()
		}
	}

	if d.db != nil {
		if err := d.db.SaveReading(ctx, reading); err != nil {
			d.storeDegraded("reading history write", err)
		}
	}
	d.cacheLatest(ctx, reading)

	d.hub.Publish("new-sensor-reading", reading)
	d.hub.PublishToRoom(zoneRoom(sensor.Zone), "new-sensor-reading", reading)
	d.mirror(ctx, "new-sensor-reading", reading)

	if reading.Status == model.StatusCritical {
		if t, ok := d.synth.MaybeSynthesize(ctx, reading, sensor, result); ok {
			if d.met != nil {
				d.met.ThreatsSynthesized.Inc()
			}
			alert := model.ThreatAlert{
				Type:        t.Type,
				Description: t.Description,
				Severity:    t.Severity,
				Location:    t.Location,
			}
			d.hub.Publish("new-threat", t)
			d.hub.Publish("threat-alert", alert)
			d.hub.PublishToRoom(zoneRoom(sensor.Zone), "threat-alert", alert)
			d.mirror(ctx, "new-threat", t)
		}
	}
	return reading, nil
}

func (d *Driver) cacheLatest(ctx context.Context, reading model.Reading) {
	if d.kv == nil {
		return
	}
	data, err := json.Marshal(reading)
	if err != nil {
		return
	}
	ttl := d.cfg.Get().Telemetry.LatestTTL
	if err := d.kv.Set(ctx, "latest:"+reading.SensorID, data, ttl); err != nil {
		d.storeDegraded("latest reading cache write", err)
	}
}

// mirror forwards hub events to the kvstore pub/sub tier for out-of-process
// consumers. Fire-and-forget.
func (d *Driver) mirror(ctx context.Context, event string, payload any) {
	if d.kv == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := d.kv.Publish(ctx, "events."+event, data); err != nil {
		d.storeDegraded("event mirror publish", err)
	}
}

func (d *Driver) storeDegraded(op string, err error) {
	if d.met != nil {
		d.met.StoreErrors.Inc()
	}
	if d.logger != nil {
		d.logger.Warn("store degraded, continuing", "op", op, "err", err)
	}
}

func (d *Driver) retentionSweep(ctx context.Context) {
	if d.db == nil {
		return
	}
	cutoff := time.Now().UTC().Add(-d.cfg.Get().Retention.Window())
	n, err := d.db.DeleteReadingsBefore(ctx, cutoff)
	if err != nil {
		d.storeDegraded("retention sweep", err)
		return
	}
	if n > 0 && d.logger != nil {
		d.logger.Info("retention sweep deleted readings", "count", n, "cutoff", cutoff)
	}
}

// Classify compares a value against the sensor's configured bounds.
// Classification is a pure range check, independent of anomaly scoring.
func Classify(sensor model.Sensor, value float64) model.SensorStatus {
	if value < sensor.CritLow || value > sensor.CritHigh {
		return model.StatusCritical
	}
	if value < sensor.WarnLow || value > sensor.WarnHigh {
		return model.StatusWarning
	}
	return model.StatusNormal
}

func (d *Driver) Sensor(id string) (model.Sensor, bool) {
	d.sensorMu.RLock()
	defer d.sensorMu.RUnlock()
	s, ok := d.sensors[id]
	return s, ok
}

func (d *Driver) Sensors() []model.Sensor {
	d.sensorMu.RLock()
	defer d.sensorMu.RUnlock()
	out := make([]model.Sensor, 0, len(d.sensors))
	for _, s := range d.sensors {
		out = append(out, s)
	}
	return out
}

func (d *Driver) zoneOf(sensorID string) (string, bool) {
	s, ok := d.Sensor(sensorID)
	if !ok {
		return "", false
	}
	return s.Zone, true
}

// ZoneRisk recomputes the zone's risk snapshot from current threats and the
// latest sensor classifications.
func (d *Driver) ZoneRisk(zone string) model.ZoneRiskSnapshot {
	active := d.registry.Active(zone)
	health := d.ring.Health(zone, d.zoneOf)
	return risk.ComputeZoneRisk(zone, active, health, time.Now())
}

func zoneRoom(zone string) string {
	return "zone:" + zone
}
