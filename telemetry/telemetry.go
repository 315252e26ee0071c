// Package telemetry exposes Prometheus collectors for batch runs, caches,
// validation scores and the HTTP surface.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/lease-engine/lease"
)

// Registry holds every collector. Each Registry owns its own
// prometheus.Registry so tests and multiple servers never collide.
type Registry struct {
	reg *prometheus.Registry

	RunDuration     prometheus.Histogram
	Runs            prometheus.Counter
	ResolvedLeases  prometheus.Gauge
	Warnings        *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	ValidationScore *prometheus.GaugeVec
	RequestDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lease_engine_run_duration_seconds",
			Help:    "Duration of one batch run per report date",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lease_engine_runs_total",
			Help: "Total number of completed batch runs",
		}),
		ResolvedLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lease_engine_resolved_leases",
			Help: "Resolved leases in the most recent run",
		}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lease_engine_warnings_total",
			Help: "Data-quality warnings raised, by code",
		}, []string{"code"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lease_engine_cache_hits_total",
			Help: "Memoized resolution hits, by backend",
		}, []string{"backend"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lease_engine_cache_misses_total",
			Help: "Memoized resolution misses, by backend",
		}, []string{"backend"}),
		ValidationScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lease_engine_validation_score",
			Help: "Latest accuracy score (0-100), by category",
		}, []string{"category"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lease_engine_http_request_duration_seconds",
			Help:    "HTTP request latency, by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	r.reg.MustRegister(
		r.RunDuration, r.Runs, r.ResolvedLeases, r.Warnings,
		r.CacheHits, r.CacheMisses, r.ValidationScore, r.RequestDuration,
	)
	return r
}

// ObserveRun records one completed batch run.
func (r *Registry) ObserveRun(d time.Duration, leases int, warnings []lease.Warning) {
	r.RunDuration.Observe(d.Seconds())
	r.Runs.Inc()
	r.ResolvedLeases.Set(float64(leases))
	for _, w := range warnings {
		r.Warnings.WithLabelValues(string(w.Code)).Inc()
	}
}

// ObserveCache records one memo lookup.
func (r *Registry) ObserveCache(backend string, hit bool) {
	if hit {
		r.CacheHits.WithLabelValues(backend).Inc()
		return
	}
	r.CacheMisses.WithLabelValues(backend).Inc()
}

// ObserveValidation records per-category scores.
func (r *Registry) ObserveValidation(scores map[string]float64) {
	for category, score := range scores {
		r.ValidationScore.WithLabelValues(category).Set(score)
	}
}

// ObserveRequest records one HTTP request.
func (r *Registry) ObserveRequest(route string, status string, d time.Duration) {
	r.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
