// Package metrics provides the Prometheus metrics of the diagnostics server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the server components.
type Metrics struct {
	TestRunsTotal         *prometheus.CounterVec
	TestRunDuration       *prometheus.HistogramVec
	ListRequestsTotal     *prometheus.CounterVec
	TestsListed           prometheus.Histogram
	ConstraintEvaluations *prometheus.CounterVec
	SensorReadsTotal      *prometheus.CounterVec
	TargetsRegistered     prometheus.Gauge
	ComponentReady        prometheus.Gauge
}

// New registers the metrics with reg. A nil reg uses the default registerer.
func New(component string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"component": component}

	return &Metrics{
		TestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "diagnostics_test_runs_total",
			Help:        "Total number of test runs by outcome",
			ConstLabels: labels,
		}, []string{"environment", "application", "outcome"}),
		TestRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "diagnostics_test_run_duration_seconds",
			Help:        "Test run duration in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"environment", "application"}),
		ListRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "diagnostics_list_requests_total",
			Help:        "Total number of test listing requests by status code",
			ConstLabels: labels,
		}, []string{"status"}),
		TestsListed: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "diagnostics_tests_listed",
			Help:        "Number of tests returned per listing request",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 6),
		}),
		ConstraintEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "diagnostics_constraint_evaluations_total",
			Help:        "Constraint evaluations that were computed rather than served from cache",
			ConstLabels: labels,
		}, []string{"environment", "application", "applies"}),
		SensorReadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "diagnostics_sensor_reads_total",
			Help:        "Total number of sensor reads by sensor and result",
			ConstLabels: labels,
		}, []string{"sensor", "result"}),
		TargetsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "diagnostics_targets_registered",
			Help:        "Number of targets in the registry",
			ConstLabels: labels,
		}),
		ComponentReady: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "diagnostics_component_ready",
			Help:        "Whether the component is ready (1) or not (0)",
			ConstLabels: labels,
		}),
	}
}

// ObserveRun records a finished test run.
func (m *Metrics) ObserveRun(environment, application, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TestRunsTotal.WithLabelValues(environment, application, outcome).Inc()
	m.TestRunDuration.WithLabelValues(environment, application).Observe(elapsed.Seconds())
}

// ObserveList records a listing request and the number of tests it returned.
func (m *Metrics) ObserveList(status string, count int) {
	if m == nil {
		return
	}
	m.ListRequestsTotal.WithLabelValues(status).Inc()
	m.TestsListed.Observe(float64(count))
}

// ObserveConstraint records one computed constraint evaluation.
func (m *Metrics) ObserveConstraint(environment, application string, applies bool) {
	if m == nil {
		return
	}
	v := "false"
	if applies {
		v = "true"
	}
	m.ConstraintEvaluations.WithLabelValues(environment, application, v).Inc()
}

// ObserveSensor records a sensor read.
func (m *Metrics) ObserveSensor(name string, err error) {
	if m == nil {
		return
	}
	r := "ok"
	if err != nil {
		r = "error"
	}
	m.SensorReadsTotal.WithLabelValues(name, r).Inc()
}

// SetReady marks the component as ready.
func (m *Metrics) SetReady() {
	if m == nil {
		return
	}
	m.ComponentReady.Set(1)
}

// SetNotReady marks the component as not ready.
func (m *Metrics) SetNotReady() {
	if m == nil {
		return
	}
	m.ComponentReady.Set(0)
}
