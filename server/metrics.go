package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the hub's prometheus collectors. Each hub registers
// its own set so tests get isolated registries.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	EventsRelayed     *prometheus.CounterVec
	RelayFailures     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "starmsg",
			Name:      "active_connections",
			Help:      "Number of identified websocket connections.",
		}),
		EventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starmsg",
			Name:      "events_relayed_total",
			Help:      "Events delivered to a target connection, by kind.",
		}, []string{"kind"}),
		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starmsg",
			Name:      "relay_failures_total",
			Help:      "Events not delivered, by kind and reason.",
		}, []string{"kind", "reason"}),
	}

	registry.MustRegister(m.ActiveConnections, m.EventsRelayed, m.RelayFailures)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
