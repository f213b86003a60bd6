// Package metrics exposes engine counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "potentials"

// Metrics holds the collectors recorded by the engine and the HTTP service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	stage     *prometheus.HistogramVec
	requests  *prometheus.CounterVec
	cells     prometheus.Gauge
	cacheHits *prometheus.CounterVec
	cacheSize prometheus.Gauge
}

// New builds a Metrics instance on its own registry, with the Go and process
// collectors registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of engine stages.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Engine requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		cells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_cells",
			Help:      "Cells generated by the most recent raster request.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_cache_total",
			Help:      "Distance matrix cache lookups by result.",
		}, []string{"result"}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distance_cache_entries",
			Help:      "Distance matrices currently held by the cache.",
		}),
	}
	reg.MustRegister(
		m.stage,
		m.requests,
		m.cells,
		m.cacheHits,
		m.cacheSize,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records how long a named stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stage.WithLabelValues(stage).Observe(d.Seconds())
}

// Timer returns a func that records the elapsed time for stage when called.
func (m *Metrics) Timer(stage string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		m.ObserveStage(stage, d)
		return d
	}
}

// CountRequest increments the request counter.
func (m *Metrics) CountRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, outcome).Inc()
}

// SetGridCells records the number of cells of the last generated grid.
func (m *Metrics) SetGridCells(n int) {
	if m == nil {
		return
	}
	m.cells.Set(float64(n))
}

// CountCache records a distance cache lookup.
func (m *Metrics) CountCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(result).Inc()
}

// SetCacheEntries records how many matrices the distance cache holds.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(n))
}
