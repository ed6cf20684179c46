package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinelgrid/internal/anomaly"
	"sentinelgrid/internal/config"
	"sentinelgrid/internal/fanout"
	"sentinelgrid/internal/faults"
	"sentinelgrid/internal/modelrepo"
	"sentinelgrid/internal/telemetry"
	"sentinelgrid/internal/threat"
)

type Server struct {
	cfg      *config.Manager
	driver   *telemetry.Driver
	models   *modelrepo.Repository
	scorer   *anomaly.Service
	registry *threat.Registry
	hub      *fanout.Hub
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status        string   `json:"status"`
	Time          string   `json:"time"`
	Version       string   `json:"version"`
	ConfigPath    string   `json:"config_path,omitempty"`
	SensorCount   int      `json:"sensor_count"`
	ObserverCount int      `json:"observer_count"`
	ActiveThreats int      `json:"active_threats"`
	Zones         []string `json:"zones"`
}

func Start(ctx context.Context, cfg *config.Manager, driver *telemetry.Driver, models *modelrepo.Repository,
	scorer *anomaly.Service, registry *threat.Registry, hub *fanout.Hub,
	gatherer prometheus.Gatherer, logger *slog.Logger, version string) *http.Server {
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		driver:   driver,
		models:   models,
		scorer:   scorer,
		registry: registry,
		hub:      hub,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/sensors", server.handleSensors)
	mux.HandleFunc("/readings", server.handleReadings)
	mux.HandleFunc("/models/", server.handleModel)
	mux.HandleFunc("/anomaly/", server.handleAnomaly)
	mux.HandleFunc("/risk/", server.handleRisk)
	mux.HandleFunc("/threats", server.handleThreats)
	mux.HandleFunc("/threats/", server.handleThreat)
	mux.HandleFunc("/ws", hub.ServeWS)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	zones := make(map[string]bool)
	for _, sensor := range s.driver.Sensors() {
		zones[sensor.Zone] = true
	}
	zoneList := make([]string, 0, len(zones))
	for z := range zones {
		zoneList = append(zoneList, z)
	}
	resp := statusResponse{
		Status:        "ok",
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Version:       s.version,
		ConfigPath:    s.cfg.Path(),
		SensorCount:   len(s.driver.Sensors()),
		ObserverCount: s.hub.Count(),
		ActiveThreats: len(s.registry.Active("")),
		Zones:         zoneList,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensors := s.driver.Sensors()
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors": sensors,
		"count":   len(sensors),
	})
}

type createReadingRequest struct {
	SensorID  string   `json:"sensor_id"`
	Value     float64  `json:"value"`
	Unit      string   `json:"unit,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Quality   *float64 `json:"quality,omitempty"`
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, faults.Invalid("request body unreadable"))
		return
	}
	var req createReadingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, faults.Invalid("malformed reading"))
		return
	}
	if req.SensorID == "" {
		writeError(w, faults.Invalid("sensor_id is required"))
		return
	}
	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, faults.Invalid("timestamp must be RFC3339"))
			return
		}
		ts = parsed
	}
	quality := 100.0
	if req.Quality != nil {
		quality = *req.Quality
	}
	reading, err := s.driver.CreateReading(r.Context(), req.SensorID, req.Value, req.Unit, ts, quality)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensorID := strings.TrimPrefix(r.URL.Path, "/models/")
	if sensorID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := s.driver.Sensor(sensorID); !ok {
		writeError(w, faults.NotFound("sensor", sensorID))
		return
	}
	// absence of a model is a valid state, not an error
	m, ok := s.models.GetOrTrain(r.Context(), sensorID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"sensor_id": sensorID, "model": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensor_id": sensorID, "model": m})
}

func (s *Server) handleAnomaly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensorID := strings.TrimPrefix(r.URL.Path, "/anomaly/")
	if sensorID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := s.driver.Sensor(sensorID); !ok {
		writeError(w, faults.NotFound("sensor", sensorID))
		return
	}
	writeJSON(w, http.StatusOK, s.scorer.Latest(sensorID))
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	zone := strings.TrimPrefix(r.URL.Path, "/risk/")
	writeJSON(w, http.StatusOK, s.driver.ZoneRisk(zone))
}

func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list := s.registry.List(limit)
	if r.URL.Query().Get("active") == "true" {
		list = s.registry.Active(r.URL.Query().Get("zone"))
		// Active is oldest first; keep the most recent limit entries
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threats": list,
		"count":   len(list),
	})
}

type threatActionRequest struct {
	UserID string `json:"user_id"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleThreat(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/threats/")
	parts := strings.SplitN(rest, "/", 2)
	threatID := parts[0]
	if threatID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		t, err := s.registry.Get(threatID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req threatActionRequest
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, faults.Invalid("malformed request body"))
			return
		}
	}

	switch parts[1] {
	case "acknowledge":
		t, err := s.driver.AcknowledgeThreat(r.Context(), threatID, req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.hub.Publish("threat-update", t)
		writeJSON(w, http.StatusOK, t)
	case "resolve":
		t, err := s.driver.ResolveThreat(r.Context(), threatID, req.UserID, req.Notes)
		if err != nil {
			writeError(w, err)
			return
		}
		s.hub.Publish("threat-update", t)
		writeJSON(w, http.StatusOK, t)
	case "escalate":
		t, err := s.driver.EscalateThreat(r.Context(), threatID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.hub.Publish("threat-update", t)
		writeJSON(w, http.StatusOK, t)
	case "false-positive":
		t, err := s.registry.MarkFalsePositive(r.Context(), threatID, req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.hub.Publish("threat-update", t)
		writeJSON(w, http.StatusOK, t)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case faults.IsNotFound(err):
		status = http.StatusNotFound
	case faults.IsValidation(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
