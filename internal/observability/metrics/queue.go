package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics contains Prometheus metrics for the Redis work queue.
type QueueMetrics struct {
	registry *prometheus.Registry

	messagesTotal    *prometheus.CounterVec
	queueDepthGauge  *prometheus.GaugeVec
	reclaimedTotal   *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	poisonDropsTotal *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewQueueMetrics creates and registers queue metrics.
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *QueueMetrics) initMetrics() {
	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Queue message lifecycle events",
		},
		[]string{"queue", "event"}, // event: enqueued, dequeued, acked
	)

	m.queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Messages waiting per queue",
		},
		[]string{"queue"},
	)

	m.reclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_reclaimed_total",
			Help: "Messages returned to the queue after their visibility deadline",
		},
		[]string{"queue"},
	)

	m.handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_handler_duration_seconds",
			Help:    "Message handler execution time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		},
		[]string{"queue", "status"},
	)

	m.poisonDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_poison_drops_total",
			Help: "Undecodable messages dropped from the queue",
		},
		[]string{"queue"},
	)

	m.collectors = []prometheus.Collector{
		m.messagesTotal,
		m.queueDepthGauge,
		m.reclaimedTotal,
		m.handlerDuration,
		m.poisonDropsTotal,
	}
}

// Describe implements the Collector interface.
func (m *QueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *QueueMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordMessage records a lifecycle event for a queue message.
func (m *QueueMetrics) RecordMessage(queue, event string) {
	m.messagesTotal.WithLabelValues(queue, event).Inc()
}

// SetQueueDepth publishes the current queue depth.
func (m *QueueMetrics) SetQueueDepth(queue string, depth int64) {
	m.queueDepthGauge.WithLabelValues(queue).Set(float64(depth))
}

// RecordReclaimed records messages recovered from expired visibility.
func (m *QueueMetrics) RecordReclaimed(queue string, count int) {
	m.reclaimedTotal.WithLabelValues(queue).Add(float64(count))
}

// RecordHandler records a handler run and its outcome.
func (m *QueueMetrics) RecordHandler(queue, status string, seconds float64) {
	m.handlerDuration.WithLabelValues(queue, status).Observe(seconds)
}

// RecordPoisonDrop records an undecodable message drop.
func (m *QueueMetrics) RecordPoisonDrop(queue string) {
	m.poisonDropsTotal.WithLabelValues(queue).Inc()
}
