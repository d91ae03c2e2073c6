// Package metrics holds the Prometheus collectors of the sync pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	ReindexRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_reindex_runs_total",
			Help: "Total number of reindex runs by outcome",
		},
		[]string{"status"},
	)

	ReindexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalogsync_reindex_duration_seconds",
			Help:    "Wall time of reindex runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	ReindexLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogsync_reindex_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reindex",
		},
	)

	ReindexPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_reindex_pages_total",
			Help: "Total number of catalog pages processed by reindex runs",
		},
	)

	DocumentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_documents_indexed_total",
			Help: "Total number of documents the search index accepted",
		},
	)

	DocumentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_documents_failed_total",
			Help: "Total number of documents the search index rejected",
		},
	)

	BulkWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalogsync_bulk_write_duration_seconds",
			Help:    "Duration of bulk write requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_retry_attempts_total",
			Help: "Total number of retried calls by operation",
		},
		[]string{"operation"},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_embedding_requests_total",
			Help: "Total number of embedding service calls by outcome",
		},
		[]string{"status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalogsync_embedding_request_duration_seconds",
			Help:    "Duration of embedding service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EmbeddingsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_embeddings_stored_total",
			Help: "Total number of product embeddings written",
		},
	)

	EmbeddingsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_embeddings_skipped_total",
			Help: "Total number of products skipped because their text was empty or unchanged",
		},
	)
)

// Collectors returns the pipeline metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ReindexRuns,
		ReindexDuration,
		ReindexLastSuccess,
		ReindexPages,
		DocumentsIndexed,
		DocumentsFailed,
		BulkWriteDuration,
		RetryAttempts,
		EmbeddingRequests,
		EmbeddingRequestDuration,
		EmbeddingsStored,
		EmbeddingsSkipped,
	}
}
