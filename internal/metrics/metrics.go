// Package metrics holds the Prometheus collectors of the map server.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the server metrics. A nil *Collector records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Renders        *prometheus.CounterVec
	RenderDuration *prometheus.HistogramVec
	ImportRows     *prometheus.CounterVec
	CacheRequests  *prometheus.CounterVec
}

// New registers the collectors with reg, or the default registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	renders, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshade_renders_total",
		Help: "Map renders, labeled by map and outcome (ok, cached, error).",
	}, []string{"map", "status"}))
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapshade_render_duration_seconds",
		Help:    "Time spent shading, resizing and encoding a map.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"map"}))
	if err != nil {
		return nil, err
	}

	rows, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshade_import_rows_total",
		Help: "Imported rows, labeled by adapter and whether they matched an area.",
	}, []string{"adapter", "outcome"}))
	if err != nil {
		return nil, err
	}

	cache, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshade_cache_requests_total",
		Help: "Cache lookups, labeled by cache and result (hit, miss).",
	}, []string{"cache", "result"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		Renders:        renders,
		RenderDuration: duration,
		ImportRows:     rows,
		CacheRequests:  cache,
	}, nil
}

// ObserveRender records one render request.
func (c *Collector) ObserveRender(mapName, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Renders.WithLabelValues(mapName, status).Inc()
	if status != "cached" {
		c.RenderDuration.WithLabelValues(mapName).Observe(d.Seconds())
	}
}

// ObserveImport records the rows of one import.
func (c *Collector) ObserveImport(adapter string, rows, unresolved int) {
	if c == nil {
		return
	}
	c.ImportRows.WithLabelValues(adapter, "matched").Add(float64(rows - unresolved))
	c.ImportRows.WithLabelValues(adapter, "unresolved").Add(float64(unresolved))
}

// ObserveCache records a cache lookup.
func (c *Collector) ObserveCache(cache string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheRequests.WithLabelValues(cache, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register counter: %w", err)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register histogram: %w", err)
	}
	return vec, nil
}
