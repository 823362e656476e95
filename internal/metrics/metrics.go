// Package metrics exposes Prometheus collectors for the harvester service.
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
	pncpPagesTotal             *prometheus.CounterVec
	noticeUpsertsTotal         *prometheus.CounterVec
	itemsCollectedTotal        prometheus.Counter
	rowsTransformedTotal       *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pncpPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pncp_pages_fetched_total",
				Help: "Total pages fetched from the PNCP API, labeled by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		)

		noticeUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_notice_upserts_total",
				Help: "Raw notice upserts, labeled by outcome (inserted, updated, unchanged).",
			},
			[]string{"outcome"},
		)

		itemsCollectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_items_collected_total",
				Help: "Total raw line items stored by the sub-item collector.",
			},
		)

		rowsTransformedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rows_transformed_total",
				Help: "Bronze rows consumed by the transform pipeline, labeled by kind.",
			},
			[]string{"kind"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_notifications_total",
				Help: "Notification attempts, labeled by status (sent, failed).",
			},
			[]string{"status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a batch.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the PNCP page counter.
func ObservePage(endpoint, status string) {
	pncpPagesTotal.WithLabelValues(endpoint, status).Inc()
}

// ObserveUpsert increments the notice upsert counter for the given outcome.
func ObserveUpsert(outcome string) {
	noticeUpsertsTotal.WithLabelValues(outcome).Inc()
}

// ObserveItemsCollected adds to the collected items counter.
func ObserveItemsCollected(n int) {
	if n > 0 {
		itemsCollectedTotal.Add(float64(n))
	}
}

// ObserveTransformed adds consumed bronze rows for the given kind.
func ObserveTransformed(kind string, n int) {
	if n > 0 {
		rowsTransformedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveNotification increments the notification counter for the given status.
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records the duration of one pipeline stage run.
func ObserveStage(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
