// Package metrics provides Prometheus collectors for the transcription
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for job and chunk processing.
type PipelineMetrics struct {
	registry *prometheus.Registry

	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	chunksTotal        *prometheus.CounterVec
	chunkDuration      *prometheus.HistogramVec
	chunkRetriesTotal  *prometheus.CounterVec
	retransmitsTotal   prometheus.Counter
	mergeDedupRemoved  prometheus.Histogram
	webhookDeliveries  *prometheus.CounterVec
	staleJobsRecovered prometheus.Counter
	jobsDeletedTotal   prometheus.Counter

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_total",
			Help: "Total number of jobs by terminal status",
		},
		[]string{"provider", "status"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "End-to-end job processing time",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
		[]string{"provider"},
	)

	m.chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_total",
			Help: "Total number of chunk transcriptions",
		},
		[]string{"provider", "status"}, // status: success, failed
	)

	m.chunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_chunk_duration_seconds",
			Help:    "Per-chunk transcription time including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"provider"},
	)

	m.chunkRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunk_retries_total",
			Help: "Total number of chunk retry attempts",
		},
		[]string{"provider", "reason"}, // reason: rate_limited, transient
	)

	m.retransmitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_coverage_retransmits_total",
			Help: "Chunks re-sent because the transcript left a coverage gap",
		},
	)

	m.mergeDedupRemoved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_merge_dedup_removed",
			Help:    "Overlap-duplicate segments removed per merge",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		},
	)

	m.webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_webhook_deliveries_total",
			Help: "Webhook delivery outcomes",
		},
		[]string{"status"}, // status: success, failed
	)

	m.staleJobsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_stale_jobs_recovered_total",
			Help: "Jobs failed at startup because a restart interrupted them",
		},
	)

	m.jobsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_deleted_total",
			Help: "Jobs removed by the retention janitor",
		},
	)

	m.collectors = []prometheus.Collector{
		m.jobsTotal,
		m.jobDuration,
		m.chunksTotal,
		m.chunkDuration,
		m.chunkRetriesTotal,
		m.retransmitsTotal,
		m.mergeDedupRemoved,
		m.webhookDeliveries,
		m.staleJobsRecovered,
		m.jobsDeletedTotal,
	}
}

// Describe implements the Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordJobCompleted records a job reaching a terminal status.
func (m *PipelineMetrics) RecordJobCompleted(provider, status string, durationSeconds float64) {
	m.jobsTotal.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		m.jobDuration.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// RecordChunk records one chunk transcription outcome.
func (m *PipelineMetrics) RecordChunk(provider, status string, durationSeconds float64) {
	m.chunksTotal.WithLabelValues(provider, status).Inc()
	m.chunkDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordChunkRetry records a retry attempt and its reason.
func (m *PipelineMetrics) RecordChunkRetry(provider, reason string) {
	m.chunkRetriesTotal.WithLabelValues(provider, reason).Inc()
}

// RecordRetransmit records a coverage-gap retransmission.
func (m *PipelineMetrics) RecordRetransmit() {
	m.retransmitsTotal.Inc()
}

// RecordMerge records dedup statistics from one merge.
func (m *PipelineMetrics) RecordMerge(dedupRemoved int) {
	m.mergeDedupRemoved.Observe(float64(dedupRemoved))
}

// RecordWebhook records a webhook delivery outcome.
func (m *PipelineMetrics) RecordWebhook(status string) {
	m.webhookDeliveries.WithLabelValues(status).Inc()
}

// RecordStaleJobsRecovered records startup stale-job recovery.
func (m *PipelineMetrics) RecordStaleJobsRecovered(count int) {
	m.staleJobsRecovered.Add(float64(count))
}

// RecordJobsDeleted records retention deletions.
func (m *PipelineMetrics) RecordJobsDeleted(count int) {
	m.jobsDeletedTotal.Add(float64(count))
}
