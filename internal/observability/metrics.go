// Package observability provides structured logging and Prometheus metrics
// for the execution core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the execution core's Prometheus metrics.
type Metrics struct {
	// ExecutionCounter counts executions by session mode and outcome.
	// Labels: mode (interactive|background|forked), status (success|error|cancelled)
	ExecutionCounter *prometheus.CounterVec

	// ExecutionDuration measures end-to-end execution latency in seconds.
	// Labels: mode
	ExecutionDuration *prometheus.HistogramVec

	// RetryCounter counts retry attempts against the backend.
	RetryCounter prometheus.Counter

	// CircuitState reports breaker state (0 closed, 1 half-open, 2 open).
	// Labels: breaker
	CircuitState *prometheus.GaugeVec

	// PermissionDecisions counts permission evaluations.
	// Labels: decision (allowed|denied), source (engine|cache)
	PermissionDecisions *prometheus.CounterVec

	// ActiveSessions tracks sessions currently processing a prompt.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers the core metrics against the given registerer.
// Pass prometheus.DefaultRegisterer outside of tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_executions_total",
			Help: "Total session executions by mode and outcome.",
		}, []string{"mode", "status"}),
		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiond_execution_duration_seconds",
			Help:    "End-to-end execution latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		RetryCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_backend_retries_total",
			Help: "Retry attempts against the backend.",
		}),
		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sessiond_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"breaker"}),
		PermissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_permission_decisions_total",
			Help: "Permission evaluations by decision and source.",
		}, []string{"decision", "source"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_active_sessions",
			Help: "Sessions currently processing a prompt.",
		}),
	}
}

// CircuitStateValue maps a breaker state name to its gauge value.
func CircuitStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}
