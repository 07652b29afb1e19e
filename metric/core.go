package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric the subscriber exports
const Namespace = "helloice"

// Metrics contains process-level metrics (not per-endpoint)
type Metrics struct {
	TransportConnected  prometheus.Gauge
	TransportReconnects prometheus.Counter
	CircuitBreaker      prometheus.Gauge
	LoopRestarts        prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		TransportConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport connection status (0=disconnected, 1=connected)",
			},
		),

		TransportReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Total number of transport reconnections",
			},
		),

		CircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "circuit_breaker",
				Help:      "Circuit breaker state (0=closed, 1=open)",
			},
		),

		LoopRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "restarts_total",
				Help:      "Times the dispatch loop was rebuilt after a transport fault",
			},
		),
	}
}

// RecordTransportStatus mirrors a connection health change into the gauges
func (m *Metrics) RecordTransportStatus(connected bool) {
	if connected {
		m.TransportConnected.Set(1)
		return
	}
	m.TransportConnected.Set(0)
}
