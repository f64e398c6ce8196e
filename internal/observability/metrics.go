// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Task metrics
	TasksSubmitted prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	ActiveTasks    prometheus.Gauge
	StageDuration  *prometheus.HistogramVec
	TaskDuration   prometheus.Histogram
	PersistRetries prometheus.Counter

	// Collection metrics
	SourceCalls   *prometheus.CounterVec
	SourceLatency *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec

	// Queue metrics
	QueueDepth prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Scheduler metrics
	JobRuns *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered against reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_risk"
	}
	f := promauto.With(reg)

	return &Metrics{
		TasksSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Total number of analysis tasks submitted",
		}),
		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Total number of analysis tasks reaching a terminal status",
		}, []string{"status"}),
		ActiveTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Number of tasks currently executing",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each analysis step in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		TaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "End-to-end task execution duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		PersistRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "persist_retries_total",
			Help:      "Total number of retried task-state writes",
		}),

		SourceCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "source_calls_total",
			Help:      "Total number of source calls by source and result",
		}, []string{"source", "result"}),
		SourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "source_latency_seconds",
			Help:      "Source call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Snapshot cache lookups by result (hit, miss, shared)",
		}, []string{"result"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of task ids waiting in the queue",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of housekeeping job runs by job and status",
		}, []string{"job", "status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordSubmitted increments the submitted counter.
func (m *Metrics) RecordSubmitted() {
	if m == nil {
		return
	}
	m.TasksSubmitted.Inc()
}

// TaskStarted marks a task as executing.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.ActiveTasks.Inc()
}

// TaskFinished records a terminal status and the task duration.
func (m *Metrics) TaskFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTasks.Dec()
	m.TasksFinished.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(d.Seconds())
}

// RecordStage records a step duration.
func (m *Metrics) RecordStage(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordPersistRetry counts a retried task write.
func (m *Metrics) RecordPersistRetry() {
	if m == nil {
		return
	}
	m.PersistRetries.Inc()
}

// RecordSourceCall records a source call outcome ("ok", "error", "skipped").
func (m *Metrics) RecordSourceCall(source, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceCalls.WithLabelValues(source, result).Inc()
	if result != "skipped" {
		m.SourceLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

// RecordCache records a cache lookup result.
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordJob records a scheduler job run.
func (m *Metrics) RecordJob(job string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
}
