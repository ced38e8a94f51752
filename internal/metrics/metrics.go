// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

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
	crawlerRunsTotal          *prometheus.CounterVec
	crawlerRunDurationSeconds prometheus.Histogram
	crawlerRunItemsTotal      *prometheus.CounterVec
	sourceCallsTotal          *prometheus.CounterVec
	cacheLookupsTotal         *prometheus.CounterVec
	storeWritesTotal          *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total traversal runs, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Wall time per traversal run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		crawlerRunItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_run_items_total",
				Help: "Items processed across runs, labeled by kind.",
			},
			[]string{"kind"},
		)

		sourceCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_source_calls_total",
				Help: "External source API calls, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_cache_lookups_total",
				Help: "Cache lookups, labeled by cache name and result.",
			},
			[]string{"cache", "result"},
		)

		storeWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_writes_total",
				Help: "Persistence gateway writes, labeled by entity.",
			},
			[]string{"entity"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_http_requests_total",
				Help: "Ops HTTP requests, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records the outcome and duration of one traversal run.
func ObserveRun(result string, duration time.Duration) {
	crawlerRunsTotal.WithLabelValues(result).Inc()
	crawlerRunDurationSeconds.Observe(duration.Seconds())
}

// AddRunItems adds processed-item counts for the given kind.
func AddRunItems(kind string, n int64) {
	if n > 0 {
		crawlerRunItemsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveSourceCall increments the source call counter.
func ObserveSourceCall(op, outcome string) {
	sourceCallsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// ObserveStoreWrite increments the write counter for an entity kind.
func ObserveStoreWrite(entity string) {
	storeWritesTotal.WithLabelValues(entity).Inc()
}

// ObserveHTTPRequest records one ops server request.
func ObserveHTTPRequest(method, route string, status int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
