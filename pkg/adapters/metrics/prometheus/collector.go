package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted     *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	stepsExecuted     *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	sessionWaitTime   prometheus.Histogram
	activeRuns        prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a collector registered with the default registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered with reg
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "velodago_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "velodago_runs_completed_total",
				Help: "Total number of runs finished, by terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "velodago_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "velodago_steps_executed_total",
				Help: "Total number of pipeline steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "velodago_step_duration_seconds",
				Help:    "Pipeline step duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"step"},
		),
		sessionWaitTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "velodago_session_wait_seconds",
				Help:    "Time spent waiting for a free execution context",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "velodago_active_runs",
				Help: "Number of runs currently executing",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "velodago_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "velodago_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "velodago_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted records a finished run
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepExecuted records one external step
func (c *Collector) RecordStepExecuted(step, status string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(step, status).Inc()
	c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordSessionAcquired records how long an acquire waited for a slot
func (c *Collector) RecordSessionAcquired(wait time.Duration) {
	c.sessionWaitTime.Observe(wait.Seconds())
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveRuns sets the number of currently executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}
