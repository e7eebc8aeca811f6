package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentcore/engine/internal/contextmanager"
	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/skills"
	"github.com/agentcore/engine/internal/tools"
	"github.com/agentcore/engine/pkg/models"
)

// memStore is a minimal in-memory store.Store, just enough to back an
// orchestrator and its context manager in tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*models.Session)}
}

func (s *memStore) CreateTurn(ctx context.Context, turn *models.Turn) error { return nil }
func (s *memStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	return nil, nil
}
func (s *memStore) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}
func (s *memStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	return nil, errors.New("not found")
}
func (s *memStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	return nil, nil
}
func (s *memStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}
func (s *memStore) DeleteSession(ctx context.Context, id string) error { return nil }
func (s *memStore) SaveTrace(ctx context.Context, t *models.Trace) error { return nil }
func (s *memStore) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	return nil, errors.New("not found")
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

// textProvider always streams back a single fixed text response, enough to
// drive a complete turn without exercising tool calls or summarization.
type textProvider struct {
	text string
}

func (p *textProvider) Chat(ctx context.Context, req provider.Request) (provider.Chunk, error) {
	return provider.Chunk{Kind: provider.ChunkDone, Text: p.text}, nil
}
func (p *textProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	ch := make(chan provider.Chunk, 4)
	ch <- provider.Chunk{Kind: provider.ChunkText, Text: p.text}
	ch <- provider.Chunk{Kind: provider.ChunkDone, DoneModel: "test-model"}
	close(ch)
	return ch, nil
}
func (p *textProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}
func (p *textProvider) Models() []string { return nil }
func (p *textProvider) Name() string     { return "text" }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memStore) {
	t.Helper()
	st := newMemStore()
	p := &textProvider{text: "hello from orchestrator"}
	skillRegistry := skills.NewRegistry(t.TempDir(), t.TempDir()+"/sidecar.json", nil)
	ctxMgr := contextmanager.New(st, skillRegistry, p, "system prompt")
	registry := tools.NewRegistry()
	dispatcher := tools.NewDispatcher(registry, tools.DefaultDispatcherConfig())

	o := New(Dependencies{
		DefaultProvider: p,
		ContextMgr:      ctxMgr,
		Registry:        registry,
		Dispatcher:      dispatcher,
		Store:           st,
		Skills:          skillRegistry,
		TempRoot:        t.TempDir(),
		MaxIterations:   3,
	})
	return o, st
}

func TestGetOrCreateSession_CreatesThenReusesFromCache(t *testing.T) {
	o, st := newTestOrchestrator(t)

	s1, err := o.GetOrCreateSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if s1.ConversationID != "sess-1" {
		t.Fatalf("expected conversation id to default to the session id, got %q", s1.ConversationID)
	}
	if _, ok := st.sessions["sess-1"]; !ok {
		t.Fatal("expected the session to be persisted to the store")
	}

	s2, err := o.GetOrCreateSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("second GetOrCreateSession() error = %v", err)
	}
	if s2 != s1 {
		t.Fatal("expected the second call to return the same cached session pointer")
	}
}

func TestPlanner_ReturnsSharedInstance(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if o.Planner() == nil {
		t.Fatal("expected Planner() to expose a non-nil planner")
	}
	if o.Planner() != o.Planner() {
		t.Fatal("expected Planner() to always return the same instance")
	}
}

func TestProcessInputStream_DrivesATurnToCompletion(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	events, err := o.ProcessInputStream(context.Background(), "sess-1", models.Message{Role: models.RoleUser, Text: "hi"}, UserContext{})
	if err != nil {
		t.Fatalf("ProcessInputStream() error = %v", err)
	}

	var gotText string
	for ev := range events {
		if ev.Message != nil {
			gotText = ev.Message.Text
		}
	}
	if gotText != "hello from orchestrator" {
		t.Fatalf("expected final response %q, got %q", "hello from orchestrator", gotText)
	}
}
