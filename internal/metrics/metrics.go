// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Pipeline struct {
	ReadingsProcessed  prometheus.Counter
	AnomaliesFlagged   prometheus.Counter
	ThreatsSynthesized prometheus.Counter
	StoreErrors        prometheus.Counter
	TickFailures       prometheus.Counter
	ConnectedObservers prometheus.Gauge
}

func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		ReadingsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinelgrid",
			Name:      "readings_processed_total",
			Help:      "Readings ingested through the pipeline.",
		}),
		AnomaliesFlagged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinelgrid",
			Name:      "anomalies_flagged_total",
			Help:      "Readings whose anomaly score crossed the threshold.",
		}),
		ThreatsSynthesized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinelgrid",
			Name:      "threats_synthesized_total",
			Help:      "Threats created from critical readings.",
		}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinelgrid",
			Name:      "store_errors_total",
			Help:      "Failed writes to the kvstore or SQL history tiers.",
		}),
		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinelgrid",
			Name:      "tick_sensor_failures_total",
			Help:      "Per-sensor failures isolated during driver ticks.",
		}),
		ConnectedObservers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinelgrid",
			Name:      "connected_observers",
			Help:      "Currently connected websocket observers.",
		}),
	}
}
