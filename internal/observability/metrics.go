package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerCooldown     *prometheus.GaugeVec
	credentialsAvailable *prometheus.GaugeVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	episodeTotal    *prometheus.CounterVec
	episodeSteps    prometheus.Histogram
	episodeDuration prometheus.Histogram

	submissionTotal *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_call_total",
					Help: "Total provider call attempts by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			credentialsAvailable: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "credentials_available",
					Help: "Credentials not in cooldown by provider.",
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			episodeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "episode_total",
					Help: "Total quiz episodes by terminal state.",
				},
				[]string{"state"},
			),
			episodeSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "episode_steps",
					Help:    "Decision round-trips per episode.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			episodeDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "episode_duration_seconds",
					Help:    "Episode duration in seconds.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10),
				},
			),
			submissionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "submission_total",
					Help: "Total answer submissions by judged outcome.",
				},
				[]string{"outcome"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active conversation session count.",
				},
			),
		}

		prometheus.MustRegister(
			m.providerCallTotal,
			m.providerCallDuration,
			m.providerCooldown,
			m.credentialsAvailable,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.episodeTotal,
			m.episodeSteps,
			m.episodeDuration,
			m.submissionTotal,
			m.activeSessions,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordProviderCall(provider string, duration time.Duration, outcome string) {
	m := getMetrics()
	m.providerCallTotal.WithLabelValues(provider, outcome).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}

func SetCredentialsAvailable(provider string, count int) {
	getMetrics().credentialsAvailable.WithLabelValues(provider).Set(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordEpisode(state string, steps int, duration time.Duration) {
	m := getMetrics()
	m.episodeTotal.WithLabelValues(state).Inc()
	m.episodeSteps.Observe(float64(steps))
	m.episodeDuration.Observe(duration.Seconds())
}

func RecordSubmission(outcome string) {
	getMetrics().submissionTotal.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}
