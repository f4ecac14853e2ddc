// Package metrics provides the Prometheus instrumentation shared by the
// registry, trust gateway and workflow engine. A Recorder owns its collectors
// so tests can each build an isolated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates the runtime's counters, gauges and histograms.
type Recorder struct {
	registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	trustDenials *prometheus.CounterVec
	tasksRunning prometheus.Gauge
	taskRetries  prometheus.Counter
	workflowRuns *prometheus.CounterVec
}

// NewRecorder creates a Recorder backed by its own Prometheus registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_tool_calls_total",
			Help: "Total tool executions by tool and result status",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgate_tool_duration_seconds",
			Help:    "Tool execution latency in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),
		trustDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_trust_denials_total",
			Help: "Gated calls denied for insufficient trust",
		}, []string{"tool"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolgate_tasks_running",
			Help: "Workflow tasks currently in RUNNING state",
		}),
		taskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toolgate_task_retries_total",
			Help: "Total workflow task retry attempts",
		}),
		workflowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_workflow_runs_total",
			Help: "Completed workflow runs by outcome",
		}, []string{"status"}),
	}

	reg.MustRegister(
		r.toolCalls, r.toolDuration, r.trustDenials,
		r.tasksRunning, r.taskRetries, r.workflowRuns,
	)
	return r
}

// ObserveToolCall records one tool execution.
func (r *Recorder) ObserveToolCall(tool, status string, d time.Duration) {
	r.toolCalls.WithLabelValues(tool, status).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// TrustDenied records a gated call rejected by the trust gateway.
func (r *Recorder) TrustDenied(tool string) {
	r.trustDenials.WithLabelValues(tool).Inc()
}

// TaskStarted / TaskDone track the running-task gauge.
func (r *Recorder) TaskStarted() { r.tasksRunning.Inc() }
func (r *Recorder) TaskDone()    { r.tasksRunning.Dec() }

// TaskRetried counts one retry attempt.
func (r *Recorder) TaskRetried() { r.taskRetries.Inc() }

// WorkflowFinished records a completed run outcome ("completed"/"failed").
func (r *Recorder) WorkflowFinished(status string) {
	r.workflowRuns.WithLabelValues(status).Inc()
}

// Handler serves the recorder's registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
