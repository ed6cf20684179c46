package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sentinelgrid/internal/anomaly"
	"sentinelgrid/internal/api"
	"sentinelgrid/internal/config"
	"sentinelgrid/internal/fanout"
	"sentinelgrid/internal/ingest"
	"sentinelgrid/internal/kvstore"
	"sentinelgrid/internal/logging"
	"sentinelgrid/internal/metrics"
	"sentinelgrid/internal/modelrepo"
	"sentinelgrid/internal/readings"
	"sentinelgrid/internal/storage"
	"sentinelgrid/internal/telemetry"
	"sentinelgrid/internal/threat"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file (optional)")
	flag.Parse()

	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		mgr = m
	} else {
		mgr = config.NewStatic(nil)
		if err := config.Validate(mgr.Get()); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg := mgr.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("sentinelgrid starting", "version", version, "config", mgr.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.NewPipeline(registry)

	kv := openKV(ctx, mgr, logger)
	if kv != nil {
		defer kv.Close()
	}

	db, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed, continuing without history", "err", err)
		db = nil
	}
	if db != nil {
		if err := db.Init(ctx); err != nil {
			logger.Error("storage schema init failed, continuing without history", "err", err)
			db = nil
		} else {
			defer db.Close()
			logger.Info("storage enabled", "driver", cfg.Storage.Driver)
		}
	}

	ring := readings.NewRing(cfg.Models.HistoryLimit)

	var history modelrepo.History = modelrepo.RingHistory{Ring: ring}
	if db != nil {
		history = db
	}
	models, err := modelrepo.New(modelrepo.Options{
		KV:           kv,
		History:      history,
		Logger:       logging.Component(logger, "models"),
		CacheSize:    cfg.Models.CacheSize,
		TTL:          cfg.Models.TTL,
		HistoryLimit: cfg.Models.HistoryLimit,
		MinSamples:   cfg.Models.MinSamples,
		TrendWindow:  cfg.Models.TrendWindow,
	})
	if err != nil {
		logger.Error("model repository init failed", "err", err)
		os.Exit(1)
	}

	scorer := anomaly.NewService(models, ring, cfg.Telemetry.RecentWindow, func() float64 {
		return mgr.Get().Telemetry.AnomalyThreshold
	})

	threats := threat.NewRegistry(logging.Component(logger, "threats"), db)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	synth := threat.NewSynthesizer(threats, logging.Component(logger, "threats"), rnd, func() float64 {
		return mgr.Get().Threats.GateProbability
	})

	hub := fanout.NewHub(logging.Component(logger, "fanout"))
	hub.OnCountChange(func(n int) { met.ConnectedObservers.Set(float64(n)) })

	in := make(chan ingest.Submission, cfg.Ingest.ChannelBuffer)
	ingest.StartKafka(ctx, mgr, in, logging.Component(logger, "kafka"))

	driver := telemetry.New(telemetry.Deps{
		Config:   mgr,
		Logger:   logging.Component(logger, "telemetry"),
		Metrics:  met,
		KV:       kv,
		DB:       db,
		Ring:     ring,
		Models:   models,
		Scorer:   scorer,
		Synth:    synth,
		Registry: threats,
		Hub:      hub,
		In:       in,
		Rand:     rnd,
	})
	hub.SetBackend(driver)

	models.Start(ctx, cfg.Models.RetrainInterval())
	defer models.Stop()
	driver.Start(ctx)
	defer driver.Stop()

	api.Start(ctx, mgr, driver, models, scorer, threats, hub,
		registry, logging.Component(logger, "api"), version)

	if mgr.Path() != "" {
		go mgr.Watch(30*time.Second, func(c *config.Config) {
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, ctx.Done())
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

// openKV builds the configured kvstore backend. A NATS connection failure
// downgrades to no cache rather than stopping startup.
func openKV(ctx context.Context, mgr *config.Manager, logger *slog.Logger) kvstore.Store {
	cfg := mgr.Get().KVStore
	switch cfg.Backend {
	case "nats":
		kv, err := kvstore.NewNATS(ctx, kvstore.NATSOptions{
			URL:       cfg.URL,
			Bucket:    cfg.Bucket,
			BucketTTL: mgr.Get().Models.TTL,
			ShortTTL:  mgr.Get().Telemetry.LatestTTL,
		}, logger)
		if err != nil {
			logger.Warn("nats kvstore unavailable, continuing without cache", "url", cfg.URL, "err", err)
			return nil
		}
		logger.Info("nats kvstore connected", "url", cfg.URL, "bucket", cfg.Bucket)
		return kv
	case "", "memory":
		return kvstore.NewMemory(time.Minute)
	default:
		logger.Warn("unknown kvstore backend, using memory", "backend", cfg.Backend)
		return kvstore.NewMemory(time.Minute)
	}
}
