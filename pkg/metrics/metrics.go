// Package metrics exposes Prometheus metrics for provider orchestration:
// provider calls, breaker state, rate-limit waits, retries and cache efficiency.
package metrics

import (
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderSet provides a process registry and the metrics registered on it.
var ProviderSet = wire.NewSet(
	NewRegistry,
	NewMetrics,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
)

// LLMBuckets covers provider latencies from 100ms to 2 minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// WaitBuckets covers rate-limiter queueing from 10ms (enterprise pacing) to 5 minutes (saturated free tier).
var WaitBuckets = []float64{0.01, 0.05, 0.15, 0.5, 1, 2.5, 5, 12.5, 30, 60, 300}

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

// Metrics contains all Prometheus metrics for InsightRelay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderRetries  *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	BreakerTrips     *prometheus.CounterVec
	RateLimitWait    *prometheus.HistogramVec
	RateLimitActive  *prometheus.GaugeVec
	CacheRequests    *prometheus.CounterVec
	CacheEntries     prometheus.Gauge
	FallbackOutcomes *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightrelay_provider_calls_total",
			Help: "Provider call attempts by outcome (ok, transient, fatal, circuit_open)",
		}, []string{"provider", "model", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insightrelay_provider_latency_seconds",
			Help:    "Latency of a single provider call attempt",
			Buckets: LLMBuckets,
		}, []string{"provider", "model"}),
		ProviderRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightrelay_provider_retries_total",
			Help: "Retries scheduled after transient provider errors",
		}, []string{"provider"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insightrelay_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		}, []string{"provider"}),
		BreakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightrelay_breaker_trips_total",
			Help: "Times a provider breaker moved to open",
		}, []string{"provider"}),
		RateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insightrelay_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate-limiter slot",
			Buckets: WaitBuckets,
		}, []string{"tier"}),
		RateLimitActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insightrelay_ratelimit_in_flight",
			Help: "Provider calls currently holding a tier slot",
		}, []string{"tier"}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightrelay_cache_requests_total",
			Help: "Result cache lookups by result (hit, miss, expired)",
		}, []string{"result"}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "insightrelay_cache_entries",
			Help: "Entries currently held by the result cache",
		}),
		FallbackOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightrelay_fallback_outcomes_total",
			Help: "Orchestrated generations by outcome (cached, primary, fallback, exhausted)",
		}, []string{"kind", "outcome"}),
	}
}

// RecordProviderCall records one attempt against a provider.
func (m *Metrics) RecordProviderCall(provider, model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, model, outcome).Inc()
	if d > 0 {
		m.ProviderLatency.WithLabelValues(provider, model).Observe(d.Seconds())
	}
}

// RecordRetry records a scheduled retry.
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(provider).Inc()
}

// SetBreakerState sets the breaker gauge; opening also counts a trip.
func (m *Metrics) SetBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(provider).Set(float64(state))
	if state == BreakerOpen {
		m.BreakerTrips.WithLabelValues(provider).Inc()
	}
}

// ObserveRateLimitWait records time spent queued for a tier slot.
func (m *Metrics) ObserveRateLimitWait(tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(tier).Observe(d.Seconds())
}

// AddInFlight adjusts the in-flight gauge for a tier.
func (m *Metrics) AddInFlight(tier string, delta int) {
	if m == nil {
		return
	}
	m.RateLimitActive.WithLabelValues(tier).Add(float64(delta))
}

// RecordCache records a cache lookup result.
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// SetCacheEntries sets the cache size gauge.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordFallback records the outcome of one orchestrated generation.
func (m *Metrics) RecordFallback(kind, outcome string) {
	if m == nil {
		return
	}
	m.FallbackOutcomes.WithLabelValues(kind, outcome).Inc()
}
