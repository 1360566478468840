/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics defines the Prometheus metrics of job executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultExecutionDurationBuckets span seconds to a day; jobs routinely run
// for eight hours or more.
var DefaultExecutionDurationBuckets = []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800, 57600, 86400}

// ExecutionMetrics holds Prometheus metrics for job executions.
// All Record methods are safe to call on a nil receiver.
type ExecutionMetrics struct {
	// ExecutionsTotal counts finished executions by terminal state.
	ExecutionsTotal *prometheus.CounterVec
	// ExecutionDuration is the histogram of execution durations by terminal state.
	ExecutionDuration *prometheus.HistogramVec
	// ActiveExecutions is the number of executions currently waiting on a Job.
	ActiveExecutions prometheus.Gauge
	// SubmissionErrorsTotal counts rejected submissions by reason.
	SubmissionErrorsTotal *prometheus.CounterVec
	// AdoptionsTotal counts Jobs that already existed and were re-attached.
	AdoptionsTotal prometheus.Counter
	// WatchReconnectsTotal counts status watch re-establishments.
	WatchReconnectsTotal prometheus.Counter
	// LogReconnectsTotal counts log stream re-establishments.
	LogReconnectsTotal prometheus.Counter
	// LogLinesTotal counts relayed log lines.
	LogLinesTotal prometheus.Counter
	// CleanupErrorsTotal counts failed resource deletions.
	CleanupErrorsTotal prometheus.Counter
}

// NewExecutionMetrics creates and registers the execution metrics with the
// default Prometheus registry.
func NewExecutionMetrics() *ExecutionMetrics {
	return NewExecutionMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewExecutionMetricsWithRegistry creates the execution metrics and
// registers them with reg. Tests use a fresh prometheus.NewRegistry().
func NewExecutionMetricsWithRegistry(reg prometheus.Registerer) *ExecutionMetrics {
	m := &ExecutionMetrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobrunner_executions_total",
			Help: "Total number of finished job executions by terminal state",
		}, []string{"state"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobrunner_execution_duration_seconds",
			Help:    "Duration of job executions from submission to terminal state",
			Buckets: DefaultExecutionDurationBuckets,
		}, []string{"state"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobrunner_active_executions",
			Help: "Number of executions currently waiting for a Job",
		}),

		SubmissionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobrunner_submission_errors_total",
			Help: "Total number of rejected Job submissions by reason",
		}, []string{"reason"}),

		AdoptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_job_adoptions_total",
			Help: "Total number of already existing Jobs re-attached instead of created",
		}),

		WatchReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_watch_reconnects_total",
			Help: "Total number of status watch re-establishments",
		}),

		LogReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_log_reconnects_total",
			Help: "Total number of log stream re-establishments",
		}),

		LogLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_log_lines_total",
			Help: "Total number of relayed container log lines",
		}),

		CleanupErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_cleanup_errors_total",
			Help: "Total number of failed Job or Pod deletions",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.SubmissionErrorsTotal,
		m.AdoptionsTotal,
		m.WatchReconnectsTotal,
		m.LogReconnectsTotal,
		m.LogLinesTotal,
		m.CleanupErrorsTotal,
	)
	return m
}

// RecordExecution records a finished execution.
func (m *ExecutionMetrics) RecordExecution(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(state).Inc()
	m.ExecutionDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// ExecutionStarted increments the active executions gauge.
func (m *ExecutionMetrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Inc()
}

// ExecutionFinished decrements the active executions gauge.
func (m *ExecutionMetrics) ExecutionFinished() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Dec()
}

// RecordSubmissionError increments the submission error counter.
func (m *ExecutionMetrics) RecordSubmissionError(reason string) {
	if m == nil {
		return
	}
	m.SubmissionErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordAdoption increments the adoption counter.
func (m *ExecutionMetrics) RecordAdoption() {
	if m == nil {
		return
	}
	m.AdoptionsTotal.Inc()
}

// RecordWatchReconnect increments the watch reconnect counter.
func (m *ExecutionMetrics) RecordWatchReconnect() {
	if m == nil {
		return
	}
	m.WatchReconnectsTotal.Inc()
}

// RecordLogReconnect increments the log reconnect counter.
func (m *ExecutionMetrics) RecordLogReconnect() {
	if m == nil {
		return
	}
	m.LogReconnectsTotal.Inc()
}

// RecordLogLine increments the relayed log line counter.
func (m *ExecutionMetrics) RecordLogLine() {
	if m == nil {
		return
	}
	m.LogLinesTotal.Inc()
}

// RecordCleanupError increments the cleanup error counter.
func (m *ExecutionMetrics) RecordCleanupError() {
	if m == nil {
		return
	}
	m.CleanupErrorsTotal.Inc()
}
