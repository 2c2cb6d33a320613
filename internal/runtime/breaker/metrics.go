package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "breaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by target state.",
	}, []string{"service", "operation", "state"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "breaker",
		Name:      "rejected_calls_total",
		Help:      "Calls rejected while the circuit was open.",
	}, []string{"service", "operation"})
)

func observeTransition(service, operation string, state State) {
	transitionsTotal.WithLabelValues(service, operation, string(state)).Inc()
}

func observeRejection(service, operation string) {
	rejectionsTotal.WithLabelValues(service, operation).Inc()
}
