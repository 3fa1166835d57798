package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session service.
type Metrics struct {
	Logins          prometheus.Counter
	LoginFailures   prometheus.Counter
	ActiveSessions  prometheus.Gauge
	ForcedLogouts   prometheus.Counter
	EndpointLatency *prometheus.HistogramVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec
	CacheSize      prometheus.Gauge

	// Refresh metrics
	RefreshAttempts  *prometheus.CounterVec
	RefreshSkipped   prometheus.Counter
	ProviderLatency  *prometheus.HistogramVec
	Invalidations    *prometheus.CounterVec
	StaleEventsDrops prometheus.Counter
}

// New creates and registers all Prometheus metrics against the given registerer.
// Passing a fresh registry lets tests instantiate independent metric sets.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_logins_total",
			Help: "Total number of successful logins",
		}),
		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_login_failures_total",
			Help: "Total number of rejected login attempts",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "avanza_active_sessions",
			Help: "Current number of active sessions",
		}),
		ForcedLogouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_forced_logouts_total",
			Help: "Total number of sessions terminated by an expired refresh token",
		}),
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "avanza_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_session_cache_hits_total",
			Help: "Total number of session cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_session_cache_misses_total",
			Help: "Total number of session cache misses (absent or expired)",
		}),
		CacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "avanza_session_cache_evictions_total",
			Help: "Total number of cache evictions, labeled by reason",
		}, []string{"reason"}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "avanza_session_cache_entries",
			Help: "Current number of entries in the session cache",
		}),
		RefreshAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "avanza_session_refreshes_total",
			Help: "Total number of token refresh attempts, labeled by outcome",
		}, []string{"outcome"}),
		RefreshSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_session_refreshes_skipped_total",
			Help: "Total number of refresh ticks skipped because a refresh was already in flight",
		}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "avanza_identity_provider_latency_seconds",
			Help:    "Latency of identity provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		Invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "avanza_session_invalidations_total",
			Help: "Total number of realtime cache invalidations, labeled by record kind",
		}, []string{"kind"}),
		StaleEventsDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "avanza_stale_reloads_dropped_total",
			Help: "Total number of profile reloads discarded because a newer reload won",
		}),
	}
}

func (m *Metrics) IncrementLogins() {
	m.Logins.Inc()
}

func (m *Metrics) IncrementLoginFailures() {
	m.LoginFailures.Inc()
}

func (m *Metrics) IncrementForcedLogouts() {
	m.ForcedLogouts.Inc()
}

func (m *Metrics) IncrementRefresh(outcome string) {
	m.RefreshAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRefreshSkipped() {
	m.RefreshSkipped.Inc()
}

func (m *Metrics) IncrementInvalidations(kind string) {
	m.Invalidations.WithLabelValues(kind).Inc()
}

// ObserveEndpointLatency records the latency for a given endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
}

// ObserveProviderLatency records the latency of an identity provider call.
func (m *Metrics) ObserveProviderLatency(operation string, durationSeconds float64) {
	m.ProviderLatency.WithLabelValues(operation).Observe(durationSeconds)
}
