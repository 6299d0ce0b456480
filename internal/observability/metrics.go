// Package observability exposes prometheus metrics for the tool pipeline.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	refusalTotal          *prometheus.CounterVec

	draftCreatedTotal    *prometheus.CounterVec
	executionStatusTotal *prometheus.CounterVec
	settlementSweepTotal *prometheus.CounterVec
	settlementQueueDepth prometheus.Gauge
	agentRunTotal        *prometheus.CounterVec
	agentRunDuration     *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and outcome.",
				},
				[]string{"tool", "outcome"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			refusalTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_refusal_total",
					Help: "Total refused tool calls by tool and reason.",
				},
				[]string{"tool", "reason"},
			),
			draftCreatedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "draft_created_total",
					Help: "Total drafts created by draft type.",
				},
				[]string{"draft_type"},
			),
			executionStatusTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "execution_status_total",
					Help: "Total execution records reaching a terminal status.",
				},
				[]string{"status"},
			),
			settlementSweepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "settlement_sweep_total",
					Help: "Total settlement intents swept by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			settlementQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "settlement_queue_depth",
					Help: "Queued settlement intents at the last sweep.",
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.refusalTotal,
			m.draftCreatedTotal,
			m.executionStatusTotal,
			m.settlementSweepTotal,
			m.settlementQueueDepth,
			m.agentRunTotal,
			m.agentRunDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the http handler serving the prometheus exposition.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordToolExecution counts one executor pipeline result.
func RecordToolExecution(tool, outcome string, duration time.Duration) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, outcome).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRefusal counts one refused tool call.
func RecordRefusal(tool, reason string) {
	getMetrics().refusalTotal.WithLabelValues(tool, reason).Inc()
}

// RecordDraftCreated counts one created draft.
func RecordDraftCreated(draftType string) {
	getMetrics().draftCreatedTotal.WithLabelValues(draftType).Inc()
}

// RecordExecutionStatus counts one execution record reaching a terminal status.
func RecordExecutionStatus(status string) {
	getMetrics().executionStatusTotal.WithLabelValues(status).Inc()
}

// RecordSettlementSweep counts one swept settlement intent.
func RecordSettlementSweep(provider, outcome string) {
	getMetrics().settlementSweepTotal.WithLabelValues(provider, outcome).Inc()
}

// SetSettlementQueueDepth records the queue depth observed by a sweep.
func SetSettlementQueueDepth(depth int) {
	getMetrics().settlementQueueDepth.Set(float64(depth))
}

// RecordAgentRun counts one agent run.
func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
