// Package modelrepo builds and serves per-sensor statistical baselines.
//
// Lookup order is in-memory LRU, then the kvstore tier (key
// model:<sensorID>), then train-on-demand from recent history. Models are
// whole-object replacements; concurrent retrains are last-write-wins.
package modelrepo

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"sentinelgrid/internal/kvstore"
	"sentinelgrid/internal/model"
	"sentinelgrid/internal/readings"
)

const keyPrefix = "model:"

// History supplies the training corpus: up to limit readings for a sensor,
// newest first.
type History interface {
	RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error)
}

// RingHistory adapts the in-memory reading ring to the History contract,
// used when no SQL store is wired.
type RingHistory struct {
	Ring *readings.Ring
}

func (h RingHistory) RecentReadings(_ context.Context, sensorID string, limit int) ([]model.Reading, error) {
	chron := h.Ring.Recent(sensorID, limit)
	out := make([]model.Reading, len(chron))
	for i, r := range chron {
		out[len(chron)-1-i] = r
	}
	return out, nil
}

type Options struct {
	KV           kvstore.Store // optional
	History      History
	Logger       *slog.Logger
	CacheSize    int
	TTL          time.Duration
	HistoryLimit int
	MinSamples   int
	TrendWindow  int
	Now          func() time.Time
}

type Repository struct {
	logger       *slog.Logger
	kv           kvstore.Store
	history      History
	cache        *lru.Cache[string, model.SensorModel]
	ttl          time.Duration
	historyLimit int
	minSamples   int
	trendWindow  int
	now          func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(opts Options) (*Repository, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 512
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1000
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache, err := lru.New[string, model.SensorModel](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Repository{
		logger:       opts.Logger,
		kv:           opts.KV,
		history:      opts.History,
		cache:        cache,
		ttl:          opts.TTL,
		historyLimit: opts.HistoryLimit,
		minSamples:   opts.MinSamples,
		trendWindow:  opts.TrendWindow,
		now:          opts.Now,
	}, nil
}

// Get looks up an existing model without training: memory first, then the
// kvstore tier. The kvstore being down is a miss, not an error.
func (r *Repository) Get(ctx context.Context, sensorID string) (model.SensorModel, bool) {
	if m, ok := r.cache.Get(sensorID); ok {
		return m, true
	}
	if r.kv == nil {
		return model.SensorModel{}, false
	}
	data, err := r.kv.Get(ctx, keyPrefix+sensorID)
	if err != nil {
		return model.SensorModel{}, false
	}
	var m model.SensorModel
	if err := json.Unmarshal(data, &m); err != nil {
		if r.logger != nil {
			r.logger.Warn("discarding undecodable cached model", "sensor_id", sensorID, "err", err)
		}
		return model.SensorModel{}, false
	}
	r.cache.Add(sensorID, m)
	return m, true
}

// GetOrTrain returns the sensor's model, training one on demand when both
// cache tiers miss. A false return means too little history exists yet.
func (r *Repository) GetOrTrain(ctx context.Context, sensorID string) (model.SensorModel, bool) {
	if m, ok := r.Get(ctx, sensorID); ok {
		return m, true
	}
	m, ok, err := r.Retrain(ctx, sensorID)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("train on demand failed", "sensor_id", sensorID, "err", err)
		}
		return model.SensorModel{}, false
	}
	return m, ok
}

// Retrain rebuilds the model from history and persists it to both tiers.
// ok=false with nil error is the legitimate "not enough samples" outcome.
func (r *Repository) Retrain(ctx context.Context, sensorID string) (model.SensorModel, bool, error) {
	recent, err := r.history.RecentReadings(ctx, sensorID, r.historyLimit)
	if err != nil {
		return model.SensorModel{}, false, err
	}
	// newest-first from History; training wants chronological order
	chron := make([]model.Reading, len(recent))
	for i, reading := range recent {
		chron[len(recent)-1-i] = reading
	}
	m, ok := Train(sensorID, chron, r.minSamples, r.trendWindow, r.now())
	if !ok {
		return model.SensorModel{}, false, nil
	}
	r.persist(ctx, m)
	return m, true, nil
}

func (r *Repository) persist(ctx context.Context, m model.SensorModel) {
	r.cache.Add(m.SensorID, m)
	if r.kv == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, keyPrefix+m.SensorID, data, r.ttl); err != nil {
		if r.logger != nil {
			r.logger.Warn("model kv persist failed, keeping memory tier only",
				"sensor_id", m.SensorID, "err", err)
		}
	}
}

// Evict removes a sensor's model from both tiers.
func (r *Repository) Evict(ctx context.Context, sensorID string) {
	r.cache.Remove(sensorID)
	if r.kv != nil {
		_ = r.kv.Delete(ctx, keyPrefix+sensorID)
	}
}

// Known lists sensors with a model currently held in memory.
func (r *Repository) Known() []string {
	return r.cache.Keys()
}

// Start launches the periodic retrain sweep. One sensor failing to retrain
// never aborts the sweep for the rest.
func (r *Repository) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Repository) Stop() {
	if r.stop == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r *Repository) sweep(ctx context.Context) {
	known := r.Known()
	retrained := 0
	for _, sensorID := range known {
		if _, ok, err := r.Retrain(ctx, sensorID); err != nil {
			if r.logger != nil {
				r.logger.Warn("retrain sweep: sensor failed", "sensor_id", sensorID, "err", err)
			}
		} else if ok {
			retrained++
		}
	}
	if r.logger != nil {
		r.logger.Info("retrain sweep complete", "known", len(known), "retrained", retrained)
	}
}
