package ecs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the store-wide instrumentation the source design's
// PerformanceMetrics/StorageStats structs exposed as plain counters; here
// they're real prometheus collectors so a host can register them on its own
// registry and scrape them like anything else in the process.
type Metrics struct {
	EntitiesLive      prometheus.Gauge
	ComponentsLive    *prometheus.GaugeVec
	CompactionsTotal  *prometheus.CounterVec
	AddComponentTotal *prometheus.CounterVec
}

// NewMetrics builds a Metrics set and registers it on reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntitiesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "latticecs",
			Name:      "entities_live",
			Help:      "Number of currently live entities in the store.",
		}),
		ComponentsLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "latticecs",
			Name:      "components_live",
			Help:      "Number of currently live components, by component type.",
		}, []string{"component_type"}),
		CompactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latticecs",
			Name:      "compactions_total",
			Help:      "Number of compaction passes run, by component type.",
		}, []string{"component_type"}),
		AddComponentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latticecs",
			Name:      "add_component_total",
			Help:      "Number of AddComponent calls, by component type.",
		}, []string{"component_type"}),
	}
	reg.MustRegister(m.EntitiesLive, m.ComponentsLive, m.CompactionsTotal, m.AddComponentTotal)
	return m
}

// Observe snapshots the store's live entity count and every registered
// repository's live component count into the gauges. Hosts call this
// periodically (e.g. once per scheduler tick) rather than wiring a gauge
// update on every mutation; the Add path only increments
// AddComponentTotal, and Remove records nothing.
func (m *Metrics) Observe(s *EntityStore) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := 0
	for _, id := range s.entities {
		if id != 0 {
			live++
		}
	}
	m.EntitiesLive.Set(float64(live))
	for _, ops := range s.repositories {
		m.ComponentsLive.WithLabelValues(ops.componentType().Name()).Set(float64(ops.liveCount()))
	}
}
