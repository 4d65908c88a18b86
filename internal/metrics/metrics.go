// Package metrics exposes Prometheus collectors for the monitor.
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
	checksTotal                *prometheus.CounterVec
	fetchFailuresTotal         *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	notificationsTotal         *prometheus.CounterVec
	evictionsTotal             prometheus.Counter
	targetsRegistered          prometheus.Gauge
	schedulerRunning           prometheus.Gauge
	commandsTotal              *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zealywatch_checks_total",
				Help: "Target checks, labeled by outcome (first, unchanged, changed, suppressed, failed).",
			},
			[]string{"result"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zealywatch_fetch_failures_total",
				Help: "Fetches that failed after all retries, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zealywatch_extractions_total",
				Help: "Extraction attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zealywatch_fetch_duration_seconds",
				Help:    "Duration of successful fetch attempts, labeled by source.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"source"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zealywatch_notifications_total",
				Help: "Operator notifications, labeled by kind and delivery result.",
			},
			[]string{"kind", "result"},
		)

		evictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zealywatch_evictions_total",
				Help: "Targets removed after exceeding the failure threshold.",
			},
		)

		targetsRegistered = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zealywatch_targets",
				Help: "Number of registered targets.",
			},
		)

		schedulerRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zealywatch_scheduler_running",
				Help: "1 while the check loop is running.",
			},
		)

		commandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zealywatch_commands_total",
				Help: "Operator commands handled, labeled by command and authorization.",
			},
			[]string{"command", "auth"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zealywatch_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host request token.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck counts a check outcome.
func ObserveCheck(result string) {
	Init()
	checksTotal.WithLabelValues(result).Inc()
}

// ObserveFetchFailure counts a fetch that exhausted its retries.
func ObserveFetchFailure(kind string) {
	Init()
	fetchFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveExtraction counts one extractor call and, on success, its latency.
func ObserveExtraction(source string, ok bool, duration time.Duration) {
	Init()
	result := "error"
	if ok {
		result = "success"
		fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
	extractionsTotal.WithLabelValues(source, result).Inc()
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(kind string, delivered bool) {
	Init()
	result := "failed"
	if delivered {
		result = "delivered"
	}
	notificationsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveEviction counts an automatic removal.
func ObserveEviction() {
	Init()
	evictionsTotal.Inc()
}

// SetTargets records the registry size.
func SetTargets(n int) {
	Init()
	targetsRegistered.Set(float64(n))
}

// SetSchedulerRunning records whether the loop is active.
func SetSchedulerRunning(running bool) {
	Init()
	if running {
		schedulerRunning.Set(1)
		return
	}
	schedulerRunning.Set(0)
}

// ObserveCommand counts an operator command.
func ObserveCommand(command string, authorized bool) {
	Init()
	auth := "denied"
	if authorized {
		auth = "ok"
	}
	commandsTotal.WithLabelValues(command, auth).Inc()
}

// ObserveRateLimitDelay records a per-host limiter wait.
func ObserveRateLimitDelay(host string, waited time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(waited.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
