// Package metrics exposes Prometheus collectors for the archiver service.
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
	capturesTotal              *prometheus.CounterVec
	submissionsTotal           *prometheus.CounterVec
	relocationsTotal           *prometheus.CounterVec
	removalsTotal              *prometheus.CounterVec
	hostEventsTotal            *prometheus.CounterVec
	throttleSeconds            *prometheus.HistogramVec
	guardTokens                prometheus.Gauge
	guardWaitSeconds           prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observe helpers are no-ops
// until Init runs.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_captures_total",
				Help: "Local page captures, labeled by mode and result.",
			},
			[]string{"mode", "result"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_submissions_total",
				Help: "Remote archive submissions, labeled by service and result.",
			},
			[]string{"service", "result"},
		)

		relocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_relocations_total",
				Help: "Local archive relocations after bookmark moves, labeled by result.",
			},
			[]string{"result"},
		)

		removalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_removals_total",
				Help: "Archive records dropped after bookmark removal, labeled by result.",
			},
			[]string{"result"},
		)

		hostEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_host_events_total",
				Help: "Bookmark and tab events processed, labeled by kind.",
			},
			[]string{"kind"},
		)

		throttleSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_submit_throttle_seconds",
				Help:    "Delay introduced by the per-host submission rate limiter.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		)

		guardTokens = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_guard_tokens",
				Help: "Concurrency guard tokens currently held.",
			},
		)

		guardWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_guard_wait_seconds",
				Help:    "Time spent waiting for the concurrency guard to clear.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.3, 1, 5, 30},
			},
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

// ObserveCapture counts a local capture attempt.
func ObserveCapture(mode, result string) {
	if capturesTotal == nil {
		return
	}
	capturesTotal.WithLabelValues(mode, result).Inc()
}

// ObserveSubmission counts a remote submission attempt.
func ObserveSubmission(service, result string) {
	if submissionsTotal == nil {
		return
	}
	submissionsTotal.WithLabelValues(service, result).Inc()
}

// ObserveRelocation counts a relocation attempt.
func ObserveRelocation(result string) {
	if relocationsTotal == nil {
		return
	}
	relocationsTotal.WithLabelValues(result).Inc()
}

// ObserveRemoval counts a record removal.
func ObserveRemoval(result string) {
	if removalsTotal == nil {
		return
	}
	removalsTotal.WithLabelValues(result).Inc()
}

// ObserveHostEvent counts a processed host event.
func ObserveHostEvent(kind string) {
	if hostEventsTotal == nil {
		return
	}
	hostEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveThrottle records the rate-limit delay for host.
func ObserveThrottle(host string, d time.Duration) {
	if throttleSeconds == nil {
		return
	}
	throttleSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// SetGuardTokens records the number of held guard tokens.
func SetGuardTokens(n int) {
	if guardTokens == nil {
		return
	}
	guardTokens.Set(float64(n))
}

// ObserveGuardWait records a completed guard wait.
func ObserveGuardWait(d time.Duration) {
	if guardWaitSeconds == nil {
		return
	}
	guardWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
