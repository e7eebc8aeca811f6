// Package metrics exposes the agent loop's Prometheus counters. It is its
// own leaf package, rather than living next to the loop it instruments,
// because both internal/agent and internal/tools need to record into it
// without creating an import cycle between them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Loop collects the think-act-observe loop's iteration, tool-call, retry,
// failure, and auto-completion counts, mirroring the same counter set a
// plain in-process snapshot would track but registered with Prometheus so
// they can be scraped.
//
// A single Loop is built once at startup and shared across every agent
// loop instance the orchestrator creates; promauto registers each metric
// with the default registry, so constructing more than one Loop in the
// same process panics on the duplicate registration.
type Loop struct {
	// Iterations counts think-act-observe iterations run across all turns.
	Iterations prometheus.Counter

	// ToolCalls counts tool dispatches by tool name and outcome
	// (success|error).
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool call latency in seconds, by tool name.
	ToolDuration *prometheus.HistogramVec

	// ToolRetries counts retry attempts issued by the dispatcher's backoff
	// policy, by tool name.
	ToolRetries *prometheus.CounterVec

	// Failures counts turns that ended in a non-response failure mode
	// (repeated_errors|max_iterations|error), by reason.
	Failures *prometheus.CounterVec

	// AutoCompletions counts turns a tool result ended early via its
	// auto-complete signal.
	AutoCompletions prometheus.Counter
}

// NewLoop builds and registers the loop metrics. Call once at startup.
func NewLoop() *Loop {
	return &Loop{
		Iterations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_loop_iterations_total",
			Help: "Total number of think-act-observe iterations run across all turns.",
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total number of tool calls dispatched, by tool name and outcome.",
		}, []string{"tool_name", "status"}),
		ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_tool_call_duration_seconds",
			Help:    "Duration of tool calls in seconds, by tool name.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		ToolRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_retries_total",
			Help: "Total number of tool-call retry attempts, by tool name.",
		}, []string{"tool_name"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_loop_failures_total",
			Help: "Total number of turns that ended in a non-response failure mode, by reason.",
		}, []string{"reason"}),
		AutoCompletions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_loop_auto_completions_total",
			Help: "Total number of turns ended early by a tool result's auto-complete signal.",
		}),
	}
}
