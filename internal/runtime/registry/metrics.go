package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "registry",
		Name:      "registrations_total",
		Help:      "Instance registrations by service.",
	}, []string{"service"})

	deregistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "registry",
		Name:      "deregistrations_total",
		Help:      "Instance deregistrations by service.",
	}, []string{"service"})

	probeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshkit",
		Subsystem: "registry",
		Name:      "probe_failures_total",
		Help:      "Failed health probe cycles by service.",
	}, []string{"service"})
)

func observeRegistration(service string)   { registrationsTotal.WithLabelValues(service).Inc() }
func observeDeregistration(service string) { deregistrationsTotal.WithLabelValues(service).Inc() }
func observeProbeFailure(service string)   { probeFailuresTotal.WithLabelValues(service).Inc() }
