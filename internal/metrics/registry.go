// Package metrics exposes Prometheus collectors for the provider client, rate
// governor, cache and scan coordinator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/models"
)

const namespace = "nsescan"

// Registry holds the Prometheus collectors for the scanner. It implements the
// observer hooks of the cache, rate governor, provider client and scan coordinator.
type Registry struct {
	reg *prometheus.Registry

	// Provider
	RequestDuration *prometheus.HistogramVec
	Requests        *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec

	// Rate governor
	GovernorWait *prometheus.HistogramVec

	// Cache
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge

	// Scans
	ScanDuration      *prometheus.HistogramVec
	Scans             *prometheus.CounterVec
	ScanOpportunities *prometheus.GaugeVec
	ScanSkipped       *prometheus.CounterVec
	ActiveScans       prometheus.Gauge

	mu      sync.Mutex
	classes map[string]struct{}
}

// New creates a registry with every collector registered, plus the Go and process collectors
func New() *Registry {
	r := &Registry{
		reg:     prometheus.NewRegistry(),
		classes: map[string]struct{}{},

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Duration of upstream HTTP attempts in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "outcome"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Upstream HTTP attempts by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Retried upstream requests by endpoint",
			},
			[]string{"endpoint"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		GovernorWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "governor_wait_seconds",
				Help:      "Time callers spent waiting for a rate budget slot",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.35, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"provider"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by key class",
			},
			[]string{"class"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache misses by key class",
			},
			[]string{"class"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_ratio",
				Help:      "Cache hit ratio across all key classes (0.0 to 1.0)",
			},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Wall time of finished scans",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode", "status"},
		),
		Scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Finished scans by mode and status",
			},
			[]string{"mode", "status"},
		),
		ScanOpportunities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scan_opportunities",
				Help:      "Opportunities found by the last scan of each mode",
			},
			[]string{"mode"},
		),
		ScanSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_skipped_total",
				Help:      "Symbols skipped during scans by reason",
			},
			[]string{"mode", "reason"},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_scans",
				Help:      "Number of scans currently running",
			},
		),
	}

	r.reg.MustRegister(
		r.RequestDuration,
		r.Requests,
		r.Retries,
		r.BreakerState,
		r.GovernorWait,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.ScanDuration,
		r.Scans,
		r.ScanOpportunities,
		r.ScanSkipped,
		r.ActiveScans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one upstream attempt
func (r *Registry) ObserveRequest(endpoint, outcome string, d time.Duration) {
	r.RequestDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
	r.Requests.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveRetry records a retried request
func (r *Registry) ObserveRetry(endpoint string) {
	r.Retries.WithLabelValues(endpoint).Inc()
}

// ObserveBreakerState records a breaker transition
func (r *Registry) ObserveBreakerState(name, state string) {
	r.BreakerState.WithLabelValues(name).Set(breakerValue(state))
}

func breakerValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// ObserveWait records time spent in the rate governor
func (r *Registry) ObserveWait(provider string, d time.Duration) {
	r.GovernorWait.WithLabelValues(provider).Observe(d.Seconds())
}

// CacheHit records a cache hit for a key class
func (r *Registry) CacheHit(class string) {
	r.CacheHits.WithLabelValues(class).Inc()
	r.updateCacheHitRatio(class)
}

// CacheMiss records a cache miss for a key class
func (r *Registry) CacheMiss(class string) {
	r.CacheMisses.WithLabelValues(class).Inc()
	r.updateCacheHitRatio(class)
}

// updateCacheHitRatio sums hits and misses over every class seen so far
func (r *Registry) updateCacheHitRatio(class string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[class] = struct{}{}

	var hits, misses float64
	m := &dto.Metric{}
	for c := range r.classes {
		if counter, err := r.CacheHits.GetMetricWithLabelValues(c); err == nil {
			if err := counter.Write(m); err == nil {
				hits += m.GetCounter().GetValue()
			}
		}
		if counter, err := r.CacheMisses.GetMetricWithLabelValues(c); err == nil {
			if err := counter.Write(m); err == nil {
				misses += m.GetCounter().GetValue()
			}
		}
	}
	if total := hits + misses; total > 0 {
		r.CacheHitRatio.Set(hits / total)
	}
}

// ScanStarted marks a scan as running
func (r *Registry) ScanStarted(models.Mode) {
	r.ActiveScans.Inc()
}

// ObserveScan records a finished scan
func (r *Registry) ObserveScan(run models.ScanRun) {
	mode := string(run.Mode)
	status := string(run.Status)
	r.ActiveScans.Dec()
	r.Scans.WithLabelValues(mode, status).Inc()
	r.ScanDuration.WithLabelValues(mode, status).Observe(run.Duration().Seconds())
	r.ScanOpportunities.WithLabelValues(mode).Set(float64(run.Opportunities))
	for reason, n := range run.Skipped {
		r.ScanSkipped.WithLabelValues(mode, reason).Add(float64(n))
	}

	log.Debug().
		Str("mode", mode).
		Str("status", status).
		Int("opportunities", run.Opportunities).
		Dur("duration", run.Duration()).
		Msg("Scan metrics recorded")
}
