// Package metrics exposes Prometheus collectors for the scanner service.
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
	scansTotal                 *prometheus.CounterVec
	scanDurationSeconds        *prometheus.HistogramVec
	candidatesTotal            *prometheus.CounterVec
	eventsTotal                *prometheus.CounterVec
	duplicatesTotal            *prometheus.CounterVec
	persistenceFailuresTotal   *prometheus.CounterVec
	strategyAttemptsTotal      *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	resourcesActive            prometheus.Gauge
	resourceProbesTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_scans_total",
				Help: "Total number of scans run, labeled by detection type and status.",
			},
			[]string{"type", "status"},
		)

		scanDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalscan_scan_duration_seconds",
				Help:    "Histogram of scan wall-clock durations.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
			},
			[]string{"type"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_candidates_total",
				Help: "Extracted candidates, labeled by type, source and outcome (accepted or rejected).",
			},
			[]string{"type", "source", "outcome"},
		)

		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_events_total",
				Help: "Net-new events handed to the sink, labeled by type.",
			},
			[]string{"type"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_duplicates_total",
				Help: "Accepted candidates suppressed as already reported, labeled by type.",
			},
			[]string{"type"},
		)

		persistenceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_persistence_failures_total",
				Help: "Candidates left uncommitted after a store or sink failure, labeled by stage.",
			},
			[]string{"stage"},
		)

		strategyAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_strategy_attempts_total",
				Help: "Strategy runs, labeled by type, strategy and outcome.",
			},
			[]string{"type", "strategy", "outcome"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_fetches_total",
				Help: "Upstream fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		resourcesActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalscan_resources_active",
				Help: "Number of egress resources currently active.",
			},
		)

		resourceProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalscan_resource_probes_total",
				Help: "Resource health probes, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalscan_rate_limit_delays_seconds",
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
	Init()
	return promhttp.Handler()
}

// ObserveScan records a finished scan.
func ObserveScan(kind, status string, duration time.Duration) {
	Init()
	scansTotal.WithLabelValues(kind, status).Inc()
	scanDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveCandidates adds n candidates with the given outcome.
func ObserveCandidates(kind, source, outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	candidatesTotal.WithLabelValues(kind, source, outcome).Add(float64(n))
}

// ObserveEvent counts a net-new event.
func ObserveEvent(kind string) {
	Init()
	eventsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuplicate counts a suppressed duplicate.
func ObserveDuplicate(kind string) {
	Init()
	duplicatesTotal.WithLabelValues(kind).Inc()
}

// ObservePersistenceFailure counts a candidate that could not be committed.
func ObservePersistenceFailure(stage string) {
	Init()
	persistenceFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveStrategyAttempt records one strategy run.
func ObserveStrategyAttempt(kind, strategy, outcome string) {
	Init()
	strategyAttemptsTotal.WithLabelValues(kind, strategy, outcome).Inc()
}

// ObserveFetch records an upstream fetch.
func ObserveFetch(site string, status string) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// SetActiveResources sets the active resource gauge.
func SetActiveResources(n int) {
	Init()
	resourcesActive.Set(float64(n))
}

// ObserveResourceProbe counts a health probe result.
func ObserveResourceProbe(healthy bool) {
	Init()
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	resourceProbesTotal.WithLabelValues(result).Inc()
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
