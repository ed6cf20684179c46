package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"sentinelgrid/internal/model"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Models    ModelsConfig    `json:"models" yaml:"models"`
	Threats   ThreatsConfig   `json:"threats" yaml:"threats"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	KVStore   KVStoreConfig   `json:"kvstore" yaml:"kvstore"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	API       APIConfig       `json:"api" yaml:"api"`
	Sensors   []model.Sensor  `json:"sensors" yaml:"sensors"`
}

type TelemetryConfig struct {
	SimulationIntervalMS int           `json:"simulation_interval_ms" yaml:"simulation_interval_ms"`
	StatusEveryTicks     int           `json:"status_every_ticks" yaml:"status_every_ticks"`
	AnomalyThreshold     float64       `json:"anomaly_threshold" yaml:"anomaly_threshold"`
	LatestTTL            time.Duration `json:"latest_ttl" yaml:"latest_ttl"`
	RecentWindow         int           `json:"recent_window" yaml:"recent_window"`
}

type ModelsConfig struct {
	RetrainIntervalMS int           `json:"model_retrain_interval_ms" yaml:"model_retrain_interval_ms"`
	TTL               time.Duration `json:"ttl" yaml:"ttl"`
	HistoryLimit      int           `json:"history_limit" yaml:"history_limit"`
	MinSamples        int           `json:"min_samples" yaml:"min_samples"`
	TrendWindow       int           `json:"trend_window" yaml:"trend_window"`
	CacheSize         int           `json:"cache_size" yaml:"cache_size"`
}

type ThreatsConfig struct {
	GateProbability float64 `json:"gate_probability" yaml:"gate_probability"`
}

type RetentionConfig struct {
	Days          int           `json:"data_retention_days" yaml:"data_retention_days"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type KVStoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	URL     string `json:"url" yaml:"url"`
	Bucket  string `json:"bucket" yaml:"bucket"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func (t TelemetryConfig) SimulationInterval() time.Duration {
	return time.Duration(t.SimulationIntervalMS) * time.Millisecond
}

func (m ModelsConfig) RetrainInterval() time.Duration {
	return time.Duration(m.RetrainIntervalMS) * time.Millisecond
}

func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Telemetry: TelemetryConfig{
			SimulationIntervalMS: 5000,
			StatusEveryTicks:     6,
			AnomalyThreshold:     0.7,
			LatestTTL:            5 * time.Minute,
			RecentWindow:         5,
		},
		Models: ModelsConfig{
			RetrainIntervalMS: 3_600_000,
			TTL:               time.Hour,
			HistoryLimit:      1000,
			MinSamples:        10,
			TrendWindow:       50,
			CacheSize:         512,
		},
		Threats: ThreatsConfig{
			GateProbability: 0.3,
		},
		Retention: RetentionConfig{
			Days:          30,
			SweepInterval: time.Hour,
		},
		KVStore: KVStoreConfig{
			Backend: "memory",
			URL:     "nats://127.0.0.1:4222",
			Bucket:  "sentinelgrid",
		},
		Storage: StorageConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "file:sentinelgrid.db?_pragma=busy_timeout(5000)",
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Kafka:         KafkaConfig{Enabled: false},
		},
		API: APIConfig{Enabled: true, Addr: ":8080"},
		Sensors: []model.Sensor{
			{
				ID: "temp-01", Name: "Server Room Temperature", Type: "temperature",
				Zone: "zone-a", Unit: "C", Baseline: 22,
				WarnLow: 16, WarnHigh: 28, CritLow: 10, CritHigh: 35, Simulated: true,
			},
			{
				ID: "motion-01", Name: "Perimeter Motion", Type: "motion",
				Zone: "zone-a", Unit: "events/min", Baseline: 2,
				WarnLow: 0, WarnHigh: 10, CritLow: 0, CritHigh: 25, Simulated: true,
			},
			{
				ID: "power-01", Name: "Main Feed Power Draw", Type: "power",
				Zone: "zone-b", Unit: "kW", Baseline: 40,
				WarnLow: 10, WarnHigh: 70, CritLow: 2, CritHigh: 90, Simulated: true,
			},
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	FromEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FromEnv overlays SENTINELGRID_* environment variables on cfg. Unparsable
// values are ignored so a bad override cannot take the process down.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SENTINELGRID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if n, ok := envInt("SENTINELGRID_SIMULATION_INTERVAL_MS"); ok {
		cfg.Telemetry.SimulationIntervalMS = n
	}
	if n, ok := envInt("SENTINELGRID_MODEL_RETRAIN_INTERVAL_MS"); ok {
		cfg.Models.RetrainIntervalMS = n
	}
	if f, ok := envFloat("SENTINELGRID_ANOMALY_THRESHOLD"); ok {
		cfg.Telemetry.AnomalyThreshold = f
	}
	if n, ok := envInt("SENTINELGRID_DATA_RETENTION_DAYS"); ok {
		cfg.Retention.Days = n
	}
	if f, ok := envFloat("SENTINELGRID_THREAT_GATE_PROBABILITY"); ok {
		cfg.Threats.GateProbability = f
	}
	if v := os.Getenv("SENTINELGRID_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("SENTINELGRID_KV_URL"); v != "" {
		cfg.KVStore.URL = v
	}
	if v := os.Getenv("SENTINELGRID_KV_BACKEND"); v != "" {
		cfg.KVStore.Backend = v
	}
	if v := os.Getenv("SENTINELGRID_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
		cfg.Storage.Enabled = true
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Telemetry.SimulationIntervalMS <= 0 {
		cfg.Telemetry.SimulationIntervalMS = def.Telemetry.SimulationIntervalMS
	}
	if cfg.Telemetry.StatusEveryTicks <= 0 {
		cfg.Telemetry.StatusEveryTicks = def.Telemetry.StatusEveryTicks
	}
	if cfg.Telemetry.AnomalyThreshold <= 0 {
		cfg.Telemetry.AnomalyThreshold = def.Telemetry.AnomalyThreshold
	}
	if cfg.Telemetry.LatestTTL <= 0 {
		cfg.Telemetry.LatestTTL = def.Telemetry.LatestTTL
	}
	if cfg.Telemetry.RecentWindow <= 0 {
		cfg.Telemetry.RecentWindow = def.Telemetry.RecentWindow
	}
	if cfg.Models.RetrainIntervalMS <= 0 {
		cfg.Models.RetrainIntervalMS = def.Models.RetrainIntervalMS
	}
	if cfg.Models.TTL <= 0 {
		cfg.Models.TTL = def.Models.TTL
	}
	if cfg.Models.HistoryLimit <= 0 {
		cfg.Models.HistoryLimit = def.Models.HistoryLimit
	}
	if cfg.Models.MinSamples <= 0 {
		cfg.Models.MinSamples = def.Models.MinSamples
	}
	if cfg.Models.TrendWindow <= 0 {
		cfg.Models.TrendWindow = def.Models.TrendWindow
	}
	if cfg.Models.CacheSize <= 0 {
		cfg.Models.CacheSize = def.Models.CacheSize
	}
	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = def.Retention.Days
	}
	if cfg.Retention.SweepInterval <= 0 {
		cfg.Retention.SweepInterval = def.Retention.SweepInterval
	}
	if cfg.KVStore.Backend == "" {
		cfg.KVStore.Backend = def.KVStore.Backend
	}
	if cfg.KVStore.Bucket == "" {
		cfg.KVStore.Bucket = def.KVStore.Bucket
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if len(cfg.Sensors) == 0 {
		cfg.Sensors = def.Sensors
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Telemetry.AnomalyThreshold <= 0 || cfg.Telemetry.AnomalyThreshold > 1 {
		return errors.New("telemetry.anomaly_threshold must be in (0, 1]")
	}
	if cfg.Threats.GateProbability < 0 || cfg.Threats.GateProbability > 1 {
		return errors.New("threats.gate_probability must be in [0, 1]")
	}
	switch strings.ToLower(cfg.KVStore.Backend) {
	case "memory", "nats":
	default:
		return fmt.Errorf("kvstore.backend must be memory or nats, got %q", cfg.KVStore.Backend)
	}
	if strings.ToLower(cfg.KVStore.Backend) == "nats" && cfg.KVStore.URL == "" {
		return errors.New("kvstore.url required when kvstore.backend is nats")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	seen := make(map[string]bool, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if s.ID == "" {
			return errors.New("sensors entries require an id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sensor id %q", s.ID)
		}
		seen[s.ID] = true
		if s.WarnLow > s.WarnHigh {
			return fmt.Errorf("sensor %q: warn_low > warn_high", s.ID)
		}
		if s.CritLow > s.CritHigh {
			return fmt.Errorf("sensor %q: crit_low > crit_high", s.ID)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStatic wraps an in-memory config, used when no config file is given.
// Reload and Watch are no-ops for a static manager.
func NewStatic(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	FromEnv(cfg)
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path != "" {
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
