package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentcore/engine/internal/contextmanager"
	"github.com/agentcore/engine/internal/metrics"
	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/skills"
	"github.com/agentcore/engine/internal/tools"
	"github.com/agentcore/engine/pkg/models"
)

// memStore is a minimal in-memory store.Store, enough to back a context
// manager and loop's turn/trace persistence in tests.
type memStore struct {
	mu     sync.Mutex
	turns  []models.Turn
	traces map[string]models.Trace
}

func newMemStore() *memStore {
	return &memStore{traces: make(map[string]models.Trace)}
}

func (s *memStore) CreateTurn(ctx context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, *turn)
	return nil
}
func (s *memStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Turn
	for _, t := range s.turns {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *memStore) CreateSession(ctx context.Context, sess *models.Session) error { return nil }
func (s *memStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return nil, errors.New("not found")
}
func (s *memStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	return nil, nil
}
func (s *memStore) UpdateSession(ctx context.Context, sess *models.Session) error { return nil }
func (s *memStore) DeleteSession(ctx context.Context, id string) error            { return nil }
func (s *memStore) SaveTrace(ctx context.Context, t *models.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[t.ID] = *t
	return nil
}
func (s *memStore) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &t, nil
}
func (s *memStore) ListTraces(ctx context.Context, conversationID string, limit int) ([]models.Trace, error) {
	return nil, nil
}
func (s *memStore) UpsertMemory(ctx context.Context, m *models.MemoryEntry) error { return nil }
func (s *memStore) GetMemory(ctx context.Context, id string) (*models.MemoryEntry, error) {
	return nil, errors.New("not found")
}
func (s *memStore) DeleteMemory(ctx context.Context, id string) error { return nil }
func (s *memStore) ListMemories(ctx context.Context, conversationID string) ([]models.MemoryEntry, error) {
	return nil, nil
}
func (s *memStore) SearchMemory(ctx context.Context, opts models.MemorySearchOptions) ([]models.MemorySearchResult, error) {
	return nil, nil
}
func (s *memStore) FindSimilarMemory(ctx context.Context, conversationID string, memType models.MemoryType, embedding []float32, threshold float64) (*models.MemoryEntry, error) {
	return nil, nil
}
func (s *memStore) Close() error { return nil }

// scriptedProvider streams a fixed sequence of chunk batches, one batch per
// Stream call.
type scriptedProvider struct {
	mu      sync.Mutex
	batches [][]provider.Chunk
	call    int
}

func (p *scriptedProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	p.mu.Lock()
	idx := p.call
	p.call++
	p.mu.Unlock()

	ch := make(chan provider.Chunk, 16)
	go func() {
		defer close(ch)
		if idx >= len(p.batches) {
			ch <- provider.Chunk{Kind: provider.ChunkDone}
			return
		}
		for _, c := range p.batches[idx] {
			ch <- c
		}
	}()
	return ch, nil
}
func (p *scriptedProvider) Chat(ctx context.Context, req provider.Request) (provider.Chunk, error) {
	return provider.Chunk{}, errors.New("not implemented")
}
func (p *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}
func (p *scriptedProvider) Models() []string { return nil }
func (p *scriptedProvider) Name() string     { return "scripted" }

func textBatch(text string) []provider.Chunk {
	return []provider.Chunk{
		{Kind: provider.ChunkText, Text: text},
		{Kind: provider.ChunkDone, Usage: provider.Usage{TokensIn: 1, TokensOut: 1}, DoneModel: "test-model"},
	}
}

func toolCallBatch(toolUseID, toolName, input string) []provider.Chunk {
	return []provider.Chunk{
		{Kind: provider.ChunkToolUseStart, ToolUseID: toolUseID, ToolName: toolName, ToolInput: input},
		{Kind: provider.ChunkDone, Usage: provider.Usage{TokensIn: 1, TokensOut: 1}, DoneModel: "test-model"},
	}
}

// echoTool always succeeds, recording the params it was called with.
type echoTool struct {
	calls int
}

func (t *echoTool) Name() string            { return "echo" }
func (t *echoTool) Description() string     { return "echoes input" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage, execCtx tools.ExecutionContext) (*models.ToolResult, error) {
	t.calls++
	return &models.ToolResult{Content: "echoed"}, nil
}

func newTestLoop(t *testing.T, p *scriptedProvider, reg *tools.Registry, cfg Config) *Loop {
	t.Helper()
	st := newMemStore()
	skillRegistry := skills.NewRegistry(t.TempDir(), t.TempDir()+"/sidecar.json", nil)
	ctxMgr := contextmanager.New(st, skillRegistry, p, "you are a test assistant")
	if reg == nil {
		reg = tools.NewRegistry()
	}
	dispatcher := tools.NewDispatcher(reg, tools.DefaultDispatcherConfig())
	cfg.TempRoot = t.TempDir()
	return New(p, ctxMgr, reg, dispatcher, st, cfg)
}

func TestRun_TextOnlyResponseCompletesImmediately(t *testing.T) {
	p := &scriptedProvider{batches: [][]provider.Chunk{textBatch("hello there")}}
	loop := newTestLoop(t, p, nil, Config{MaxIterations: 3})

	msg, err := loop.Run(context.Background(), models.Message{Role: models.RoleUser, Text: "hi"}, "", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.Text != "hello there" {
		t.Fatalf("expected final text %q, got %q", "hello there", msg.Text)
	}
}

func TestRun_DispatchesToolCallThenFinishes(t *testing.T) {
	tool := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)

	p := &scriptedProvider{batches: [][]provider.Chunk{
		toolCallBatch("call-1", "echo", `{"x":1}`),
		textBatch("done after tool"),
	}}
	loop := newTestLoop(t, p, reg, Config{MaxIterations: 5})

	msg, err := loop.Run(context.Background(), models.Message{Role: models.RoleUser, Text: "use the tool"}, "", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected the tool to be called once, got %d", tool.calls)
	}
	if msg.Text != "done after tool" {
		t.Fatalf("expected final text %q, got %q", "done after tool", msg.Text)
	}
}

func TestRun_MaxIterationsStopsWithoutHanging(t *testing.T) {
	tool := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)

	// Every iteration asks for the same tool call, never producing a
	// final text response, so the loop must hit its iteration budget.
	var batches [][]provider.Chunk
	for i := 0; i < 10; i++ {
		batches = append(batches, toolCallBatch("call", "echo", `{}`))
	}
	p := &scriptedProvider{batches: batches}
	loop := newTestLoop(t, p, reg, Config{MaxIterations: 2})

	msg, err := loop.Run(context.Background(), models.Message{Role: models.RoleUser, Text: "loop forever"}, "", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg == nil {
		t.Fatal("expected a terminal message even after exhausting the iteration budget")
	}
}

func TestRun_RecordsIterationAndFailureMetrics(t *testing.T) {
	tool := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)

	var batches [][]provider.Chunk
	for i := 0; i < 10; i++ {
		batches = append(batches, toolCallBatch("call", "echo", `{}`))
	}
	p := &scriptedProvider{batches: batches}
	m := metrics.NewLoop()
	loop := newTestLoop(t, p, reg, Config{MaxIterations: 2, Metrics: m})

	if _, err := loop.Run(context.Background(), models.Message{Role: models.RoleUser, Text: "loop"}, "", RunOptions{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if testutil.ToFloat64(m.Iterations) == 0 {
		t.Fatal("expected at least one iteration to be recorded")
	}
	if testutil.ToFloat64(m.Failures.WithLabelValues("max_iterations")) != 1 {
		t.Fatal("expected the max_iterations failure reason to be recorded once")
	}
}

func TestStop_EndsRunWithStoppedResponse(t *testing.T) {
	p := &scriptedProvider{batches: [][]provider.Chunk{textBatch("unused")}}
	loop := newTestLoop(t, p, nil, Config{MaxIterations: 5})
	loop.Stop()

	msg, err := loop.Run(context.Background(), models.Message{Role: models.RoleUser, Text: "hi"}, "", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.Text != "Stopped." {
		t.Fatalf("expected the stopped sentinel response, got %q", msg.Text)
	}
}
