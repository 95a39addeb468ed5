// Package metrics provides Prometheus metrics collection for the HTTP API,
// run queue, and scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the orchestrator exposes.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
	ActiveRuns     prometheus.Gauge
	ScheduleTicks  *prometheus.CounterVec
	RetentionSweep *prometheus.CounterVec
}

// New creates a Metrics instance and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testorch_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testorch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testorch_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed.",
		}),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testorch_runs_total",
				Help: "Total number of test runs completed, by environment and final status.",
			},
			[]string{"environment", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testorch_run_duration_seconds",
				Help:    "Run duration in seconds, from dequeue to completion.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"environment"},
		),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testorch_queue_depth",
			Help: "Number of runs currently queued.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testorch_active_runs",
			Help: "Number of runs currently executing.",
		}),
		ScheduleTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testorch_schedule_ticks_total",
				Help: "Total number of scheduler tick evaluations, by whether a run was triggered.",
			},
			[]string{"triggered"},
		),
		RetentionSweep: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testorch_retention_sweeps_total",
				Help: "Total number of retention sweeps, by outcome.",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.RunsTotal,
			m.RunDuration,
			m.QueueDepth,
			m.ActiveRuns,
			m.ScheduleTicks,
			m.RetentionSweep,
		)
	}

	return m
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records a completed run's final status and duration.
func (m *Metrics) RecordRun(environment, status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(environment, status).Inc()
	m.RunDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// SetQueueDepth reports the current number of queued runs.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// SetActiveRuns reports the current number of executing runs.
func (m *Metrics) SetActiveRuns(n int) {
	m.ActiveRuns.Set(float64(n))
}

// RecordScheduleTick records one scheduler tick evaluation.
func (m *Metrics) RecordScheduleTick(triggered bool) {
	label := "false"
	if triggered {
		label = "true"
	}
	m.ScheduleTicks.WithLabelValues(label).Inc()
}

// RecordRetentionSweep records one retention sweep's outcome ("ok" or "error").
func (m *Metrics) RecordRetentionSweep(outcome string) {
	m.RetentionSweep.WithLabelValues(outcome).Inc()
}
