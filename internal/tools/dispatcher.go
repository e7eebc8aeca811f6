package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/engine/internal/metrics"
	"github.com/agentcore/engine/pkg/models"
)

// DispatcherConfig configures the sequential dispatcher's retry policy,
// adapted for per-call sequential execution instead of a
// parallel fan-out (tool calls within a single
// iteration to run one at a time, in order).
type DispatcherConfig struct {
	// RetryableTools is the set of tool names that get retried with
	// backoff on failure. Defaults to {http_request, web_search}.
	RetryableTools map[string]bool
	MaxRetries     int
	BaseDelay      time.Duration
	CallTimeout    time.Duration

	// Metrics records per-call counts and durations. Nil disables recording.
	Metrics *metrics.Loop
}

// DefaultDispatcherConfig returns the default retry and timeout configuration:
// http_request and web_search are retried up to twice with exponential
// backoff; every other tool runs once.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RetryableTools: map[string]bool{"http_request": true, "web_search": true},
		MaxRetries:     2,
		BaseDelay:      2 * time.Second,
		CallTimeout:    2 * time.Minute,
	}
}

// Dispatcher runs the tool calls of a single agent-loop iteration
// sequentially, in the order the model emitted them, so that a later call
// can depend on a side effect of an earlier one within the same turn.
type Dispatcher struct {
	registry *Registry
	cfg      DispatcherConfig

	mu       sync.Mutex
	failures map[string]int // keyed by name or name+":"+command-prefix
}

// NewDispatcher builds a sequential dispatcher over registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.RetryableTools == nil {
		cfg = DefaultDispatcherConfig()
	}
	return &Dispatcher{registry: registry, cfg: cfg, failures: make(map[string]int)}
}

// DispatchResult pairs a tool call with the result it produced, in call
// order, for conversion into tool_result messages.
type DispatchResult struct {
	Call   models.ToolCall
	Result *models.ToolResult
}

// DispatchAll runs every call in calls sequentially, honoring ctx
// cancellation between calls.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []models.ToolCall, execCtx ExecutionContext) ([]DispatchResult, error) {
	results := make([]DispatchResult, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := d.dispatchOne(ctx, call, execCtx)
		results = append(results, DispatchResult{Call: call, Result: res})
	}
	return results, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call models.ToolCall, execCtx ExecutionContext) *models.ToolResult {
	key := failureKey(call)
	retryable := d.cfg.RetryableTools[call.Name]

	attempts := 1
	if retryable {
		attempts = d.cfg.MaxRetries + 1
	}

	var last *models.ToolResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.ToolRetries.WithLabelValues(call.Name).Inc()
			}
			delay := d.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &models.ToolResult{Content: "cancelled before retry", IsError: true}
			}
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		res, err := d.registry.Execute(callCtx, call.Name, call.Input, execCtx)
		cancel()
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			res = &models.ToolResult{Content: fmt.Sprintf("tool execution error: %v", err), IsError: true}
		}
		res.ToolUseID = call.ID
		last = res

		if !res.IsError {
			d.clearFailures(key)
			d.recordCallMetric(call.Name, "success")
			return res
		}
		d.recordFailure(key)
	}
	d.recordCallMetric(call.Name, "error")
	return last
}

func (d *Dispatcher) recordCallMetric(toolName, status string) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.ToolCalls.WithLabelValues(toolName, status).Inc()
	}
}

// FailureKeyFor exposes the same grouping dispatchOne uses internally, so
// a caller that wants to pre-check FailureCount before even attempting a
// call (the agent loop's MAX_TOOL_FAILURES circuit breaker) keys it
// identically.
func FailureKeyFor(call models.ToolCall) string {
	return failureKey(call)
}

// failureKey groups shell-like tools by their command prefix (e.g. the
// first token of a "command" parameter) so that repeated failures of
// distinct commands under the same tool name aren't conflated, mirroring
// shell-tool circuit-breaking by command rather than by bare tool name.
func failureKey(call models.ToolCall) string {
	if call.Name != "exec" && call.Name != "shell" && call.Name != "run_command" {
		return call.Name
	}
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Input, &params); err != nil || params.Command == "" {
		return call.Name
	}
	fields := strings.Fields(params.Command)
	if len(fields) == 0 {
		return call.Name
	}
	return call.Name + ":" + fields[0]
}

func (d *Dispatcher) recordFailure(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[key]++
}

func (d *Dispatcher) clearFailures(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, key)
}

// FailureCount returns the consecutive-failure count for a tool name or
// name:command-prefix key, for callers that want to surface a circuit
// warning to the model (e.g. "this command has failed N times in a row").
func (d *Dispatcher) FailureCount(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures[key]
}
