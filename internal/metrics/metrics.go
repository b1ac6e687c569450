// Package metrics defines the Prometheus collectors for the ingestion
// pipeline and the query fan-out engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing,
// which keeps unit tests free of registry setup.
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	JobDuration         prometheus.Histogram
	RetriesTotal        *prometheus.CounterVec
	BatchesUpserted     prometheus.Counter
	ChunksWritten       prometheus.Counter
	DeadLettersTotal    *prometheus.CounterVec
	QueriesTotal        *prometheus.CounterVec
	QueryLatency        prometheus.Histogram
	SearchFailuresTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Ingestion jobs processed by terminal outcome (done, failed reason, requeued).",
			},
			[]string{"outcome"},
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_job_duration_seconds",
				Help:    "Wall time of one ingestion attempt.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_retries_total",
				Help: "Retried operations by kind (fetch, upsert).",
			},
			[]string{"operation"},
		),
		BatchesUpserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_batches_upserted_total",
				Help: "Embedding batches written to the vector index.",
			},
		),
		ChunksWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_chunks_written_total",
				Help: "Chunks written to the vector index.",
			},
		),
		DeadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_dead_letters_total",
				Help: "Jobs moved to the dead-letter store by failure reason.",
			},
			[]string{"reason"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_requests_total",
				Help: "Fan-out queries by result (complete, partial, no_answer, error).",
			},
			[]string{"result"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "query_latency_seconds",
				Help:    "End-to-end latency of a fan-out query including completion.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		SearchFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_search_failures_total",
				Help: "Per-document searches that failed or timed out.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.RetriesTotal,
		m.BatchesUpserted,
		m.ChunksWritten,
		m.DeadLettersTotal,
		m.QueriesTotal,
		m.QueryLatency,
		m.SearchFailuresTotal,
	)

	return m
}

// Handler returns the scrape handler for the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) JobFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(took.Seconds())
}

func (m *Metrics) Retried(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) BatchUpserted(chunks int) {
	if m == nil {
		return
	}
	m.BatchesUpserted.Inc()
	m.ChunksWritten.Add(float64(chunks))
}

func (m *Metrics) DeadLettered(reason string) {
	if m == nil {
		return
	}
	m.DeadLettersTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) QueryFinished(result string, failedSearches int, took time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(result).Inc()
	m.SearchFailuresTotal.Add(float64(failedSearches))
	m.QueryLatency.Observe(took.Seconds())
}
