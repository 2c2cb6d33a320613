package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshkit",
	Subsystem: "eventbus",
	Name:      "published_total",
	Help:      "Events published by event type.",
}, []string{"event_type"})

func observePublished(eventType string) { publishedTotal.WithLabelValues(eventType).Inc() }
