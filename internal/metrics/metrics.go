// Package metrics exposes Prometheus collectors for the scraper service.
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

// Task outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

var (
	scraperTasksTotal          *prometheus.CounterVec
	scraperTaskDuration        *prometheus.HistogramVec
	scraperTaskRetriesTotal    *prometheus.CounterVec
	scraperChallengeWaitsTotal *prometheus.CounterVec
	scraperChallengeWaitSecs   *prometheus.HistogramVec
	scraperActiveSessions      prometheus.Gauge
	scraperReapedBrowsersTotal *prometheus.CounterVec
	scraperRateLimitDelay      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tasks_total",
				Help: "Total number of search tasks, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		scraperTaskDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_task_duration_seconds",
				Help:    "Histogram of search task durations, labeled by source.",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"source"},
		)

		scraperTaskRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_task_retries_total",
				Help: "Total number of tasks retried with a fresh browser session.",
			},
			[]string{"source"},
		)

		scraperChallengeWaitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_challenge_waits_total",
				Help: "Total number of anti-bot interstitials encountered, labeled by source.",
			},
			[]string{"source"},
		)

		scraperChallengeWaitSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_challenge_wait_seconds",
				Help:    "Histogram of time spent waiting on anti-bot interstitials.",
				Buckets: []float64{3, 10, 30, 60, 120, 300, 600},
			},
			[]string{"source"},
		)

		scraperActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_sessions",
				Help: "Number of live browser sessions.",
			},
		)

		scraperReapedBrowsersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_reaped_browsers_total",
				Help: "Browser processes terminated by the reaper, labeled by signal.",
			},
			[]string{"signal"},
		)

		scraperRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Time tasks spent waiting for the per-source pacing limiter.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
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
				Buckets: []float64{0.05, 0.5, 5, 30, 60, 300, 900},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveTask records the outcome and duration of one search task.
func ObserveTask(source, outcome string, duration time.Duration) {
	Init()
	scraperTasksTotal.WithLabelValues(source, outcome).Inc()
	scraperTaskDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveRetry counts a task retried with a fresh session.
func ObserveRetry(source string) {
	Init()
	scraperTaskRetriesTotal.WithLabelValues(source).Inc()
}

// ObserveChallengeWait records one interstitial wait.
func ObserveChallengeWait(source string, duration time.Duration) {
	Init()
	scraperChallengeWaitsTotal.WithLabelValues(source).Inc()
	scraperChallengeWaitSecs.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActiveSessions increments the live session gauge.
func IncActiveSessions() {
	Init()
	scraperActiveSessions.Inc()
}

// DecActiveSessions decrements the live session gauge.
func DecActiveSessions() {
	Init()
	scraperActiveSessions.Dec()
}

// ObserveReap counts a browser process terminated with the given signal name.
func ObserveReap(signal string) {
	Init()
	scraperReapedBrowsersTotal.WithLabelValues(signal).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the pacing limiter.
func ObserveRateLimitDelay(source string, delay time.Duration) {
	Init()
	scraperRateLimitDelay.WithLabelValues(source).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
