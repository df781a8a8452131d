// Package metrics exposes Prometheus collectors for the verification service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	healthProbesTotal          *prometheus.CounterVec
	healthAnomaliesTotal       *prometheus.CounterVec
	escalationsTotal           *prometheus.CounterVec
	sessionStateChangesTotal   *prometheus.CounterVec
	refreshSyncFailuresTotal   prometheus.Counter
	activeSessions             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		healthProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_health_probes_total",
				Help: "Total crawler health probes, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		healthAnomaliesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_health_anomalies_total",
				Help: "Total crawler anomalies recorded, labeled by source and code.",
			},
			[]string{"source", "code"},
		)

		escalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_escalations_total",
				Help: "Total escalation decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sessionStateChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_session_state_changes_total",
				Help: "Total verification session state transitions, labeled by state.",
			},
			[]string{"state"},
		)

		refreshSyncFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verifier_refresh_sync_failures_total",
				Help: "Total transient sync failures during card refresh.",
			},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verifier_active_sessions",
				Help: "Number of verification sessions currently in an active state.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveHealthProbe records one probe outcome ("pass" or "fail").
func ObserveHealthProbe(source string, passed bool) {
	Init()
	result := "pass"
	if !passed {
		result = "fail"
	}
	healthProbesTotal.WithLabelValues(source, result).Inc()
}

// ObserveAnomaly records one detected anomaly.
func ObserveAnomaly(source, code string) {
	Init()
	healthAnomaliesTotal.WithLabelValues(source, code).Inc()
}

// ObserveEscalation records an escalation decision outcome
// (created, skipped, capacity, create_failed).
func ObserveEscalation(outcome string) {
	Init()
	escalationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStateChange records a session transitioning into a state.
func ObserveStateChange(state string) {
	Init()
	sessionStateChangesTotal.WithLabelValues(state).Inc()
}

// ObserveSyncFailure increments the transient refresh failure counter.
func ObserveSyncFailure() {
	Init()
	refreshSyncFailuresTotal.Inc()
}

// SetActiveSessions updates the active sessions gauge.
func SetActiveSessions(n int) {
	Init()
	activeSessions.Set(float64(n))
}
