// Package metrics exposes Prometheus collectors for the poller and its side channels.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopy_poll_pages_total",
			Help: "Total number of timeline pages fetched, labeled by whether they were empty.",
		},
		[]string{"result"},
	)

	pollItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopy_poll_items_total",
			Help: "Total number of timeline items processed, labeled by variant.",
		},
		[]string{"variant"},
	)

	urlsCountedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loopy_urls_counted_total",
			Help: "Total number of normalized URL increments recorded.",
		},
	)

	urlsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loopy_urls_skipped_total",
			Help: "Total number of extracted URLs skipped because they could not be normalized.",
		},
	)

	backoffSleepSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loopy_backoff_sleep_seconds",
			Help:    "Histogram of idle sleeps taken after empty pages.",
			Buckets: []float64{15, 30, 60, 120, 240, 480, 900},
		},
	)

	backoffExponent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loopy_backoff_exponent",
			Help: "Exponent the next idle sleep will use.",
		},
	)

	fetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopy_fetch_retries_total",
			Help: "Total number of tolerated fetch errors, labeled by kind.",
		},
		[]string{"kind"},
	)

	archiveSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopy_archive_submissions_total",
			Help: "Total number of archive submissions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loopy_rate_limit_delay_seconds",
			Help:    "Histogram of delays introduced by the archive rate limiter, labeled by host.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"host"},
	)

	archiveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loopy_archive_queue_depth",
			Help: "Number of archive jobs waiting in the in-process queue.",
		},
	)

	activeArchiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loopy_archive_active_workers",
			Help: "Number of archive workers currently processing a job.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopy_http_requests_total",
			Help: "Total number of ops API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loopy_http_request_duration_seconds",
			Help:    "Histogram of ops API latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one fetched page.
func ObservePage(items int) {
	result := "results"
	if items == 0 {
		result = "empty"
	}
	pollPagesTotal.WithLabelValues(result).Inc()
}

// ObserveItem records one processed item.
func ObserveItem(variant string) {
	pollItemsTotal.WithLabelValues(variant).Inc()
}

// ObserveURLCounted records a successful frequency increment.
func ObserveURLCounted() {
	urlsCountedTotal.Inc()
}

// ObserveURLSkipped records a URL dropped by normalization.
func ObserveURLSkipped() {
	urlsSkippedTotal.Inc()
}

// ObserveBackoff records an idle sleep and the exponent that follows it.
func ObserveBackoff(sleep time.Duration, nextExponent float64) {
	backoffSleepSeconds.Observe(sleep.Seconds())
	backoffExponent.Set(nextExponent)
}

// ObserveFetchRetry records a tolerated connection or HTTP error.
func ObserveFetchRetry(kind string) {
	fetchRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveArchive records the outcome of an archive submission.
func ObserveArchive(outcome string) {
	archiveSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a rate limiter token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// SetArchiveQueueDepth publishes the current in-process queue length.
func SetArchiveQueueDepth(depth int) {
	archiveQueueDepth.Set(float64(depth))
}

// IncActiveWorkers increments the active archive workers gauge.
func IncActiveWorkers() {
	activeArchiveWorkers.Inc()
}

// DecActiveWorkers decrements the active archive workers gauge.
func DecActiveWorkers() {
	activeArchiveWorkers.Dec()
}

// ObserveHTTPRequest increments the ops API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
