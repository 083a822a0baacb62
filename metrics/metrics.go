// Package metrics exposes Prometheus instrumentation for the retry and
// circuit-breaker layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts individual operation attempts by outcome.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_attempts_total",
			Help: "Total operation attempts",
		},
		[]string{"key", "outcome"},
	)

	// ExecutionsTotal counts execute calls by final result.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_executions_total",
			Help: "Total execute calls by final result",
		},
		[]string{"key", "result"},
	)

	// BackoffSeconds tracks computed backoff delays.
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_backoff_seconds",
			Help:    "Backoff delay applied between attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"key"},
	)

	// BreakerState reports the current circuit position (0 closed, 1 open, 2 half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"key"},
	)

	// BreakerTransitions counts circuit state changes.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"key", "from", "to"},
	)

	// BreakerRejections counts calls refused while the circuit was open.
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_rejections_total",
			Help: "Calls rejected by an open circuit breaker",
		},
		[]string{"key"},
	)
)
