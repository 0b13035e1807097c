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

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Number of process registrations by result.",
		}, []string{"result"},
	)
	trackedProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobletd",
			Subsystem: "registry",
			Name:      "tracked_processes",
			Help:      "Processes tracked by the registry after the last scan.",
		},
	)
	reconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "registry",
			Name:      "reconcile_cycles_total",
			Help:      "Number of reconciliation cycles by result (ok, error).",
		}, []string{"result"},
	)
	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jobletd",
			Subsystem: "registry",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	deregistrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "registry",
			Name:      "deregistrations_total",
			Help:      "Number of dead processes removed from the registry.",
		},
	)
	handlerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "registry",
			Name:      "handler_failures_total",
			Help:      "Number of termination handler failures.",
		},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Number of execute calls by result (ok, config_error, launch_error, register_error).",
		}, []string{"factory", "result"},
	)
	admissionRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "executor",
			Name:      "admission_rejections_total",
			Help:      "Number of executions refused because the concurrency limit was reached.",
		},
	)
	maxConcurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobletd",
			Subsystem: "executor",
			Name:      "max_concurrent_processes",
			Help:      "Configured concurrency limit.",
		},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobletd",
			Subsystem: "joblet",
			Name:      "terminations_total",
			Help:      "Terminated joblets by factory and outcome (done, error, crashed).",
		}, []string{"factory", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		registrations, trackedProcesses, reconcileCycles, reconcileDuration, deregistrations,
		handlerFailures, executions, admissionRejections, maxConcurrent, terminations,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncRegistration(result string) {
	if regOK.Load() {
		registrations.WithLabelValues(result).Inc()
	}
}

func SetTracked(n int) {
	if regOK.Load() {
		trackedProcesses.Set(float64(n))
	}
}

func ObserveReconcile(seconds float64, ok bool) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	reconcileCycles.WithLabelValues(result).Inc()
	reconcileDuration.Observe(seconds)
}

func IncDeregistration() {
	if regOK.Load() {
		deregistrations.Inc()
	}
}

func IncHandlerFailure() {
	if regOK.Load() {
		handlerFailures.Inc()
	}
}

func IncExecution(factory, result string) {
	if regOK.Load() {
		executions.WithLabelValues(factory, result).Inc()
	}
}

func IncAdmissionRejection() {
	if regOK.Load() {
		admissionRejections.Inc()
	}
}

func SetMaxConcurrent(n int) {
	if regOK.Load() {
		maxConcurrent.Set(float64(n))
	}
}

func IncTermination(factory, outcome string) {
	if regOK.Load() {
		terminations.WithLabelValues(factory, outcome).Inc()
	}
}
