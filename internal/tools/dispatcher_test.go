package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentcore/engine/internal/metrics"
	"github.com/agentcore/engine/pkg/models"
)

// countingTool fails its first failUntil calls, then succeeds.
type countingTool struct {
	name      string
	failUntil int
	calls     int
}

func (t *countingTool) Name() string             { return t.name }
func (t *countingTool) Description() string      { return "test tool" }
func (t *countingTool) Schema() json.RawMessage  { return json.RawMessage(`{}`) }
func (t *countingTool) Execute(ctx context.Context, params json.RawMessage, execCtx ExecutionContext) (*models.ToolResult, error) {
	t.calls++
	if t.calls <= t.failUntil {
		return &models.ToolResult{Content: fmt.Sprintf("failure %d", t.calls), IsError: true}, nil
	}
	return &models.ToolResult{Content: "ok"}, nil
}

func newTestDispatcher(t *testing.T, tool Tool, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	registry.Register(tool)
	return NewDispatcher(registry, cfg)
}

func TestDispatchAll_RetriesRetryableToolUntilSuccess(t *testing.T) {
	tool := &countingTool{name: "http_request", failUntil: 1}
	cfg := DefaultDispatcherConfig()
	cfg.BaseDelay = time.Millisecond
	d := newTestDispatcher(t, tool, cfg)

	results, err := d.DispatchAll(context.Background(), []models.ToolCall{{ID: "1", Name: "http_request"}}, ExecutionContext{})
	if err != nil {
		t.Fatalf("DispatchAll() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Result.IsError {
		t.Fatalf("expected eventual success, got error result %q", results[0].Result.Content)
	}
	if tool.calls != 2 {
		t.Fatalf("expected 2 attempts (1 failure + 1 retry), got %d", tool.calls)
	}
}

func TestDispatchAll_NonRetryableToolRunsOnce(t *testing.T) {
	tool := &countingTool{name: "read_file", failUntil: 5}
	cfg := DefaultDispatcherConfig()
	d := newTestDispatcher(t, tool, cfg)

	results, err := d.DispatchAll(context.Background(), []models.ToolCall{{ID: "1", Name: "read_file"}}, ExecutionContext{})
	if err != nil {
		t.Fatalf("DispatchAll() error = %v", err)
	}
	if !results[0].Result.IsError {
		t.Fatal("expected the single attempt to surface as an error result")
	}
	if tool.calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable tool, got %d", tool.calls)
	}
}

func TestDispatchOne_RecordsMetrics(t *testing.T) {
	tool := &countingTool{name: "http_request", failUntil: 1}
	cfg := DefaultDispatcherConfig()
	cfg.BaseDelay = time.Millisecond
	m := metrics.NewLoop()
	cfg.Metrics = m
	d := newTestDispatcher(t, tool, cfg)

	_, err := d.DispatchAll(context.Background(), []models.ToolCall{{ID: "1", Name: "http_request"}}, ExecutionContext{})
	if err != nil {
		t.Fatalf("DispatchAll() error = %v", err)
	}

	if got := testutil.ToFloat64(m.ToolRetries.WithLabelValues("http_request")); got != 1 {
		t.Fatalf("expected 1 recorded retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("http_request", "success")); got != 1 {
		t.Fatalf("expected 1 recorded success call, got %v", got)
	}
}

func TestFailureKeyFor_GroupsExecByCommandPrefix(t *testing.T) {
	call := models.ToolCall{Name: "exec", Input: json.RawMessage(`{"command":"rm -rf /tmp/x"}`)}
	if key := FailureKeyFor(call); key != "exec:rm" {
		t.Fatalf("expected key exec:rm, got %q", key)
	}

	other := models.ToolCall{Name: "read_file", Input: json.RawMessage(`{}`)}
	if key := FailureKeyFor(other); key != "read_file" {
		t.Fatalf("expected bare tool name for a non-shell tool, got %q", key)
	}
}

func TestDispatcher_FailureCountTracksConsecutiveFailures(t *testing.T) {
	tool := &countingTool{name: "read_file", failUntil: 5}
	d := newTestDispatcher(t, tool, DefaultDispatcherConfig())

	call := models.ToolCall{ID: "1", Name: "read_file"}
	for i := 1; i <= 3; i++ {
		d.DispatchAll(context.Background(), []models.ToolCall{call}, ExecutionContext{})
		if got := d.FailureCount(FailureKeyFor(call)); got != i {
			t.Fatalf("expected failure count %d after %d calls, got %d", i, i, got)
		}
	}
}
