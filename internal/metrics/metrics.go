// Package metrics exposes Prometheus collectors for the webmention receiver.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal              *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	sourceBytesTotal           *prometheus.CounterVec
	callbacksTotal             *prometheus.CounterVec
	mentionsTotal              *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmention_requests_total",
				Help: "Inbound webmention requests, labeled by acceptance outcome.",
			},
			[]string{"outcome"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmention_tasks_total",
				Help: "Processed tasks, labeled by terminal state and reason.",
			},
			[]string{"state", "reason"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webmention_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		)

		sourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmention_source_bytes_total",
				Help: "Total number of source bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		callbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmention_callbacks_total",
				Help: "Callback deliveries, labeled by result.",
			},
			[]string{"result"},
		)

		mentionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmention_mentions_total",
				Help: "Mentions written, labeled by reftype or deleted.",
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webmention_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webmention_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts an inbound webmention by acceptance outcome.
func ObserveRequest(outcome string) {
	Init()
	requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTask counts a task that reached a terminal state.
func ObserveTask(state, reason string) {
	Init()
	tasksTotal.WithLabelValues(state, reason).Inc()
}

// ObserveStage records how long a pipeline stage ran.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveSourceFetch adds fetched source bytes for the source's site.
func ObserveSourceFetch(source string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		sourceBytesTotal.WithLabelValues(SanitizeSite(source)).Add(float64(bytesFetched))
	}
}

// ObserveCallback counts a callback delivery attempt.
func ObserveCallback(result string) {
	Init()
	callbacksTotal.WithLabelValues(result).Inc()
}

// ObserveMentions counts mentions written under kind.
func ObserveMentions(kind string, n int) {
	Init()
	if n > 0 {
		mentionsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
