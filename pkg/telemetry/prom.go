package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CatalogMetrics holds the Prometheus metrics exposed by the serve
// command: graph catalog state and hot-reload activity, next to the
// standard Go and process collectors.
type CatalogMetrics struct {
	graphsLoaded prometheus.Gauge
	reloads      *prometheus.CounterVec
	watchEvents  prometheus.Counter

	registry *prometheus.Registry
}

// NewCatalogMetrics creates the metrics on a private registry.
func NewCatalogMetrics() *CatalogMetrics {
	registry := prometheus.NewRegistry()

	m := &CatalogMetrics{
		graphsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "draftnrun_graphs_loaded",
			Help: "Number of graph definitions currently loaded in the catalog",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftnrun_graph_reloads_total",
			Help: "Graph catalog reloads by status",
		}, []string{"status"}),
		watchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftnrun_watch_events_total",
			Help: "Filesystem events observed on the graphs directory",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.graphsLoaded,
		m.reloads,
		m.watchEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetGraphsLoaded records the current catalog size.
func (m *CatalogMetrics) SetGraphsLoaded(n int) {
	m.graphsLoaded.Set(float64(n))
}

// RecordReload counts one reload attempt by status ("success" or "error").
func (m *CatalogMetrics) RecordReload(status string) {
	m.reloads.WithLabelValues(status).Inc()
}

// RecordWatchEvent counts one filesystem event on the graphs directory.
func (m *CatalogMetrics) RecordWatchEvent() {
	m.watchEvents.Inc()
}

// Handler returns the /metrics handler for the private registry.
func (m *CatalogMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
