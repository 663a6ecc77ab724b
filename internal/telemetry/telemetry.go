// Package telemetry exposes Prometheus collectors for the tender crawler.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tendersUpsertedTotal  *prometheus.CounterVec
	upsertFailuresTotal   *prometheus.CounterVec
	crawlFailuresTotal    *prometheus.CounterVec
	crawlRunsTotal        prometheus.Counter
	crawlDurationSeconds  prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call more
// than once.
func Init() {
	once.Do(func() {
		tendersUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendercrawler_tenders_upserted_total",
				Help: "Total number of tender records upserted, labeled by site.",
			},
			[]string{"site"},
		)

		upsertFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendercrawler_upsert_failures_total",
				Help: "Total number of per-record persistence failures, labeled by site.",
			},
			[]string{"site"},
		)

		crawlFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendercrawler_crawl_failures_total",
				Help: "Total number of failed source crawls, labeled by site.",
			},
			[]string{"site"},
		)

		crawlRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tendercrawler_crawl_runs_total",
				Help: "Total number of crawl runs started.",
			},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tendercrawler_crawl_duration_seconds",
				Help:    "Histogram of full crawl run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpsert counts one successful tender upsert for the site.
func ObserveUpsert(site string) {
	tendersUpsertedTotal.WithLabelValues(site).Inc()
}

// ObserveUpsertFailure counts one non-fatal per-record persistence failure.
func ObserveUpsertFailure(site string) {
	upsertFailuresTotal.WithLabelValues(site).Inc()
}

// ObserveCrawlFailure counts one failed source crawl.
func ObserveCrawlFailure(site string) {
	crawlFailuresTotal.WithLabelValues(site).Inc()
}

// ObserveCrawlRun records a completed crawl run and its duration.
func ObserveCrawlRun(duration time.Duration) {
	crawlRunsTotal.Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
