package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics contains Prometheus metrics for vendor API calls and the
// adaptive rate limiter.
type ProviderMetrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitHits     *prometheus.CounterVec
	limiterAlphaGauge *prometheus.GaugeVec
	tokenWaitDuration *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewProviderMetrics creates and registers provider metrics.
func NewProviderMetrics(registry *prometheus.Registry) (*ProviderMetrics, error) {
	m := &ProviderMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ProviderMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Vendor API call outcomes",
		},
		[]string{"provider", "status"}, // status: success, rate_limited, transient, fatal
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Vendor API call latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"provider"},
	)

	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_rate_limit_hits_total",
			Help: "429 or quota responses per provider",
		},
		[]string{"provider"},
	)

	m.limiterAlphaGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_limiter_alpha",
			Help: "Adaptive rate limiter throttle factor per provider",
		},
		[]string{"provider"},
	)

	m.tokenWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_token_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"provider"},
	)

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitHits,
		m.limiterAlphaGauge,
		m.tokenWaitDuration,
	}
}

// Describe implements the Collector interface.
func (m *ProviderMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *ProviderMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRequest records one vendor call.
func (m *ProviderMetrics) RecordRequest(provider, status string, durationSeconds float64) {
	m.requestsTotal.WithLabelValues(provider, status).Inc()
	m.requestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordRateLimitHit records a 429 or quota response.
func (m *ProviderMetrics) RecordRateLimitHit(provider string) {
	m.rateLimitHits.WithLabelValues(provider).Inc()
}

// SetLimiterAlpha publishes the limiter's current throttle factor.
func (m *ProviderMetrics) SetLimiterAlpha(provider string, alpha float64) {
	m.limiterAlphaGauge.WithLabelValues(provider).Set(alpha)
}

// RecordTokenWait records time blocked on the limiter.
func (m *ProviderMetrics) RecordTokenWait(provider string, seconds float64) {
	m.tokenWaitDuration.WithLabelValues(provider).Observe(seconds)
}
