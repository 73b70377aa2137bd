package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerState shows the current state of circuit breakers.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// CircuitBreakerRequestsTotal counts admission checks through circuit breakers.
	CircuitBreakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of admission checks through circuit breakers",
		},
		[]string{"service", "result"},
	)

	// CircuitBreakerFailuresTotal counts failures recorded by circuit breakers.
	CircuitBreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// CircuitBreakerSuccessesTotal counts successes recorded by circuit breakers.
	CircuitBreakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_successes_total",
			Help: "Total number of successes recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// CircuitBreakerTimeoutsTotal counts call timeouts recorded by circuit breakers.
	CircuitBreakerTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_timeouts_total",
			Help: "Total number of call timeouts recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// CircuitBreakerStateChangesTotal counts state changes.
	CircuitBreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"service", "from", "to"},
	)

	// CircuitBreakerRejectedTotal counts rejected requests due to open circuit.
	CircuitBreakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejected_total",
			Help: "Total number of requests rejected due to open circuit",
		},
		[]string{"service"},
	)
)

// RecordState records the current state of a circuit breaker.
func RecordState(service string, state State) {
	CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordRequest records an admission check through a circuit breaker.
func RecordRequest(service string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
		CircuitBreakerRejectedTotal.WithLabelValues(service).Inc()
	}
	CircuitBreakerRequestsTotal.WithLabelValues(service, result).Inc()
}

// RecordFailure records a failure.
func RecordFailure(service string) {
	CircuitBreakerFailuresTotal.WithLabelValues(service).Inc()
}

// RecordSuccess records a success.
func RecordSuccess(service string) {
	CircuitBreakerSuccessesTotal.WithLabelValues(service).Inc()
}

// RecordTimeout records a call timeout.
func RecordTimeout(service string) {
	CircuitBreakerTimeoutsTotal.WithLabelValues(service).Inc()
}

// RecordStateChange records a state change.
func RecordStateChange(service string, from, to State) {
	CircuitBreakerStateChangesTotal.WithLabelValues(service, from.String(), to.String()).Inc()
	RecordState(service, to)
}
