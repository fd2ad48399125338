// Package metrics exposes the service's Prometheus gauges and counters,
// grounded on the teacher's standalone metrics exporter but wired
// directly into the crawl engine and ingestion pipeline instead of scraping
// the database out-of-process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FilesIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesearch_files_indexed_total",
			Help: "Total number of files committed to the search index",
		},
		[]string{"repository"},
	)

	FilesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesearch_files_skipped_total",
			Help: "Total number of files skipped by the crawl pipeline",
		},
		[]string{"repository", "reason"},
	)

	CrawlBatchesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesearch_crawl_batches_failed_total",
			Help: "Total number of index commit batches that failed",
		},
		[]string{"repository"},
	)

	FilesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesearch_files_failed_total",
			Help: "Total number of individual documents that failed to commit within an otherwise successful batch",
		},
		[]string{"repository"},
	)

	CrawlsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codesearch_crawls_active",
			Help: "Number of crawls currently running",
		},
	)

	IndexDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codesearch_index_documents",
			Help: "Approximate number of documents in the search index",
		},
	)

	CrawlDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codesearch_crawl_duration_seconds",
			Help:    "Wall-clock duration of completed crawls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"repository", "outcome"},
	)

	BatchCommitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codesearch_batch_commit_seconds",
			Help:    "Time taken to commit a batch of documents to the index",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"repository"},
	)

	GitHostRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesearch_git_host_requests_total",
			Help: "Total requests made to git hosting APIs",
		},
		[]string{"host", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		FilesIndexedTotal,
		FilesSkippedTotal,
		CrawlBatchesFailedTotal,
		FilesFailedTotal,
		CrawlsActive,
		IndexDocuments,
		CrawlDurationSeconds,
		BatchCommitSeconds,
		GitHostRequestsTotal,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
