// Package metrics exposes Prometheus collectors for the publisher service.
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
	jobsTotal                  *prometheus.CounterVec
	jobsEnqueuedTotal          prometheus.Counter
	claimConflictsTotal        prometheus.Counter
	runDurationSeconds         *prometheus.HistogramVec
	automationFailuresTotal    *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	throttleDelaySeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopub_jobs_total",
				Help: "Runner cycles, labeled by outcome (completed, requeued, failed, no_job).",
			},
			[]string{"outcome"},
		)

		jobsEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "autopub_jobs_enqueued_total",
				Help: "Total number of jobs inserted by the enqueuer.",
			},
		)

		claimConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "autopub_claim_conflicts_total",
				Help: "Claims lost to another worker.",
			},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopub_run_duration_seconds",
				Help:    "Histogram of runner cycle durations, labeled by outcome.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		)

		automationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopub_automation_failures_total",
				Help: "Browser automation failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "autopub_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopub_throttle_delay_seconds",
				Help:    "Histogram of publish throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveRun records one runner cycle.
func ObserveRun(outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveEnqueued adds n inserted jobs.
func ObserveEnqueued(n int) {
	Init()
	jobsEnqueuedTotal.Add(float64(n))
}

// ObserveClaimConflict counts a claim lost to another worker.
func ObserveClaimConflict() {
	Init()
	claimConflictsTotal.Inc()
}

// ObserveAutomationFailure counts an automation failure by kind.
func ObserveAutomationFailure(kind string) {
	Init()
	if kind == "" {
		kind = "unknown"
	}
	automationFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
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

// ObserveThrottleDelay records the duration of a publish throttle wait.
func ObserveThrottleDelay(host string, duration time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
