package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Messages appended to the log by queue.",
	}, []string{"queue"})

	completedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "queue",
		Name:      "completed_total",
		Help:      "Messages processed successfully by queue.",
	}, []string{"queue"})

	failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "queue",
		Name:      "failed_attempts_total",
		Help:      "Failed processing attempts by queue.",
	}, []string{"queue"})

	deadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "queue",
		Name:      "dead_lettered_total",
		Help:      "Messages moved to the dead letter state by queue.",
	}, []string{"queue"})

	replayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "queue",
		Name:      "dead_letter_replayed_total",
		Help:      "Dead-lettered messages re-enqueued by queue.",
	}, []string{"queue"})
)

func observeEnqueued(queue string)     { enqueuedTotal.WithLabelValues(queue).Inc() }
func observeCompleted(queue string)    { completedTotal.WithLabelValues(queue).Inc() }
func observeFailed(queue string)       { failedTotal.WithLabelValues(queue).Inc() }
func observeDeadLettered(queue string) { deadLetteredTotal.WithLabelValues(queue).Inc() }
func observeReplayed(queue string)     { replayedTotal.WithLabelValues(queue).Inc() }
