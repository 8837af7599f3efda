package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicewatch",
			Subsystem: "service",
			Name:      "probes_total",
			Help:      "Number of probes by outcome reason (ok for healthy).",
		}, []string{"service", "result"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voicewatch",
			Subsystem: "service",
			Name:      "probe_duration_seconds",
			Help:      "Wall time of a single service probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicewatch",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restart attempts by outcome (recovered, still_unhealthy, command_failed).",
		}, []string{"service", "outcome"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicewatch",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different service states.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voicewatch",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	serviceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voicewatch",
			Subsystem: "service",
			Name:      "healthy",
			Help:      "1 when the last probe of the service was healthy.",
		}, []string{"service"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "voicewatch",
			Subsystem: "supervisor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full supervision cycle.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	hostUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voicewatch",
			Subsystem: "host",
			Name:      "usage",
			Help:      "Host resource readings (disk/memory percent, temperature celsius).",
		}, []string{"check"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{probes, probeDuration, restarts, stateTransitions, currentStates, serviceHealthy, cycleDuration, hostUsage}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveProbe(service, result string, seconds float64) {
	if regOK.Load() {
		probes.WithLabelValues(service, result).Inc()
		probeDuration.WithLabelValues(service).Observe(seconds)
	}
}

func IncRestart(service, outcome string) {
	if regOK.Load() {
		restarts.WithLabelValues(service, outcome).Inc()
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

// SetCurrentState marks state as the active one for service and clears the others.
func SetCurrentState(service, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		var value float64
		if s == state {
			value = 1
		}
		currentStates.WithLabelValues(service, s).Set(value)
	}
}

func SetHealthy(service string, healthy bool) {
	if regOK.Load() {
		var value float64
		if healthy {
			value = 1
		}
		serviceHealthy.WithLabelValues(service).Set(value)
	}
}

func ObserveCycle(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}

func SetHostUsage(check string, value float64) {
	if regOK.Load() {
		hostUsage.WithLabelValues(check).Set(value)
	}
}
