package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper retrieval service.
// Metrics are organized by subsystem: batches, downloads, resolutions, cache,
// and source requests. All counters and histograms are registered via promauto
// for automatic registration with the default Prometheus registry.
type Metrics struct {
	// BatchesStarted counts the total number of download batches initiated.
	BatchesStarted prometheus.Counter

	// BatchesCompleted counts the total number of batches that finished with every task successful.
	BatchesCompleted prometheus.Counter

	// BatchesFailed counts the total number of batches that finished with at least one failed task.
	BatchesFailed prometheus.Counter

	// BatchDuration observes the end-to-end duration of batches in seconds.
	BatchDuration prometheus.Histogram

	// PapersPerBatch observes the distribution of task counts per batch.
	PapersPerBatch prometheus.Histogram

	// DownloadsStarted counts download tasks started.
	DownloadsStarted prometheus.Counter

	// DownloadsCompleted counts successful downloads, labeled by content type (pdf, html).
	DownloadsCompleted *prometheus.CounterVec

	// DownloadsFailed counts failed download tasks.
	DownloadsFailed prometheus.Counter

	// DownloadDuration observes single download duration in seconds.
	DownloadDuration prometheus.Histogram

	// DownloadSizeBytes observes the size of fetched documents in bytes.
	DownloadSizeBytes prometheus.Histogram

	// ResolutionsAttempted counts identifiers submitted for resolution, labeled by kind (pmid, doi).
	ResolutionsAttempted *prometheus.CounterVec

	// ResolutionsResolved counts identifiers successfully mapped to a PMCID, labeled by kind.
	ResolutionsResolved *prometheus.CounterVec

	// ResolutionsUnresolved counts identifiers left unresolved after all rounds, labeled by kind.
	ResolutionsUnresolved *prometheus.CounterVec

	// ResolutionRounds observes how many rounds a PMID resolution pass needed.
	ResolutionRounds prometheus.Histogram

	// CacheHits counts cache hits, labeled by cache name.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts cache misses, labeled by cache name.
	CacheMisses *prometheus.CounterVec

	// CacheEvictions counts entries removed by expiry or corruption, labeled by cache name.
	CacheEvictions *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to external APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to external APIs, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to external APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from external APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// SourceRetries counts retry attempts against external APIs, labeled by source.
	SourceRetries *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Batches
		BatchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of download batches started",
		}),
		BatchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of download batches completed fully successfully",
		}),
		BatchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Total number of download batches with at least one failure",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of download batches in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		PapersPerBatch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_batch",
			Help:      "Number of papers per download batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		// Downloads
		DownloadsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_started_total",
			Help:      "Total number of download tasks started",
		}),
		DownloadsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_completed_total",
			Help:      "Total number of successful downloads by content type",
		}, []string{"content_type"}),
		DownloadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_failed_total",
			Help:      "Total number of failed download tasks",
		}),
		DownloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of single downloads in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		DownloadSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_size_bytes",
			Help:      "Size of fetched documents in bytes",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
		}),

		// Resolutions
		ResolutionsAttempted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_attempted_total",
			Help:      "Total number of identifiers submitted for PMCID resolution by kind",
		}, []string{"kind"}),
		ResolutionsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_resolved_total",
			Help:      "Total number of identifiers resolved to a PMCID by kind",
		}, []string{"kind"}),
		ResolutionsUnresolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_unresolved_total",
			Help:      "Total number of identifiers left unresolved by kind",
		}, []string{"kind"}),
		ResolutionRounds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_rounds",
			Help:      "Number of rounds a PMID resolution pass needed",
			Buckets:   []float64{1, 2, 3},
		}),

		// Cache
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits by cache name",
		}, []string{"cache"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses by cache name",
		}, []string{"cache"}),
		CacheEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted by expiry or corruption",
		}, []string{"cache"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to external APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to external APIs",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to external APIs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from external APIs",
		}, []string{"source"}),
		SourceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of retry attempts against external APIs",
		}, []string{"source"}),
	}
}

// RecordBatchStarted records that a download batch has started.
func (m *Metrics) RecordBatchStarted(size int) {
	m.BatchesStarted.Inc()
	m.PapersPerBatch.Observe(float64(size))
}

// RecordBatchCompleted records a batch that finished without failures.
func (m *Metrics) RecordBatchCompleted(durationSeconds float64) {
	m.BatchesCompleted.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordBatchFailed records a batch that finished with failures.
func (m *Metrics) RecordBatchFailed(durationSeconds float64) {
	m.BatchesFailed.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordDownloadStarted records that a download task has started.
func (m *Metrics) RecordDownloadStarted() {
	m.DownloadsStarted.Inc()
}

// RecordDownloadCompleted records a successful download.
func (m *Metrics) RecordDownloadCompleted(contentType string, durationSeconds float64, sizeBytes int64) {
	m.DownloadsCompleted.WithLabelValues(contentType).Inc()
	m.DownloadDuration.Observe(durationSeconds)
	if sizeBytes > 0 {
		m.DownloadSizeBytes.Observe(float64(sizeBytes))
	}
}

// RecordDownloadFailed records a failed download.
func (m *Metrics) RecordDownloadFailed(durationSeconds float64) {
	m.DownloadsFailed.Inc()
	m.DownloadDuration.Observe(durationSeconds)
}

// RecordResolution records the outcome of a resolution pass for one kind of identifier.
func (m *Metrics) RecordResolution(kind string, attempted, resolved int) {
	m.ResolutionsAttempted.WithLabelValues(kind).Add(float64(attempted))
	m.ResolutionsResolved.WithLabelValues(kind).Add(float64(resolved))
	if unresolved := attempted - resolved; unresolved > 0 {
		m.ResolutionsUnresolved.WithLabelValues(kind).Add(float64(unresolved))
	}
}

// RecordResolutionRounds records how many rounds a PMID resolution pass used.
func (m *Metrics) RecordResolutionRounds(rounds int) {
	m.ResolutionRounds.Observe(float64(rounds))
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// RecordCacheEviction records a cache entry removed by expiry or corruption.
func (m *Metrics) RecordCacheEviction(cache string) {
	m.CacheEvictions.WithLabelValues(cache).Inc()
}

// RecordSourceRequest records a request to an external API.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to an external API.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from an external API.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordSourceRetry records a retry attempt against an external API.
func (m *Metrics) RecordSourceRetry(source string) {
	m.SourceRetries.WithLabelValues(source).Inc()
}
