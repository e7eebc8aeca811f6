// Package provider defines the narrow interface the agent loop and context
// manager use to talk to concrete LLM backends, plus a failover wrapper that
// tries providers in order.
package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentcore/engine/pkg/models"
)

// ErrNoProvider is returned when a loop or context manager has no provider
// configured at all.
var ErrNoProvider = errors.New("provider: no LLM provider configured")

// Request is one completion request sent to a provider.
type Request struct {
	Model          string
	SystemPrompt   string
	Messages       []models.Message
	Tools          []ToolDefinition
	Temperature    float64
	MaxTokens      int
	StopSequences  []string
}

// ToolDefinition is the LLM-facing view of a registered tool: name,
// description, and a JSON-schema parameters document.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []byte // JSON schema
}

// ChunkKind discriminates the variant carried by a Chunk.
type ChunkKind string

const (
	ChunkText          ChunkKind = "text"
	ChunkToolUseStart  ChunkKind = "tool_use_start"
	ChunkToolUseDelta  ChunkKind = "tool_use_delta"
	ChunkDone          ChunkKind = "done"
)

// Chunk is one streamed unit of a provider's response.
type Chunk struct {
	Kind ChunkKind

	// ChunkText
	Text string

	// ChunkToolUseStart
	ToolUseID   string
	ToolName    string
	ToolInput   string // initial partial JSON, may be empty

	// ChunkToolUseDelta — appends to the most recently started tool use.
	InputFragment string

	// ChunkDone
	Usage Usage
	DoneModel string

	Err error
}

// Usage carries token accounting from a completed stream.
type Usage struct {
	TokensIn  int
	TokensOut int
}

// Provider is the interface every concrete LLM adapter implements. One
// instance exists per model family (vision, fast, default, ...).
type Provider interface {
	// Chat performs a single non-streaming completion.
	Chat(ctx context.Context, req Request) (Chunk, error)

	// Stream performs a streaming completion, sending Chunks on the
	// returned channel until ChunkDone or an error Chunk, then closing it.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Embed converts texts to embedding vectors. Returns
	// ErrEmbeddingUnsupported if the provider has none configured.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Models lists model identifiers this provider can serve.
	Models() []string

	// Name identifies the provider for logging/cooldown bookkeeping.
	Name() string
}

// ErrEmbeddingUnsupported is returned by Provider.Embed when the provider
// has no embedding model configured.
var ErrEmbeddingUnsupported = errors.New("provider: embeddings not supported")

// Failover tries a list of providers in order, switching to the next only
// before the first emitted chunk of a stream (or before a Chat call
// returns). A provider that errors is marked "down" for Cooldown and
// skipped until it elapses.
type Failover struct {
	mu        sync.Mutex
	providers []Provider
	downUntil map[string]time.Time
	Cooldown  time.Duration
}

// NewFailover builds a Failover wrapper over providers tried in order.
func NewFailover(cooldown time.Duration, providers ...Provider) *Failover {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Failover{
		providers: providers,
		downUntil: make(map[string]time.Time),
		Cooldown:  cooldown,
	}
}

func (f *Failover) available() []Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	out := make([]Provider, 0, len(f.providers))
	for _, p := range f.providers {
		if until, down := f.downUntil[p.Name()]; down && now.Before(until) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		// Every provider is still cooling down, or none is configured:
		// fall back to the full list rather than failing outright.
		return f.providers
	}
	return out
}

func (f *Failover) markDown(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downUntil[name] = time.Now().Add(f.Cooldown)
}

// Chat tries providers in order until one succeeds.
func (f *Failover) Chat(ctx context.Context, req Request) (Chunk, error) {
	var lastErr error
	for _, p := range f.available() {
		chunk, err := p.Chat(ctx, req)
		if err == nil {
			return chunk, nil
		}
		lastErr = err
		f.markDown(p.Name())
	}
	if lastErr == nil {
		lastErr = ErrNoProvider
	}
	return Chunk{}, lastErr
}

// Stream tries providers in order pre-stream only: once a provider emits
// its first chunk, Failover commits to it for the remainder of the call.
func (f *Failover) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	var lastErr error
	for _, p := range f.available() {
		upstream, err := p.Stream(ctx, req)
		if err != nil {
			lastErr = err
			f.markDown(p.Name())
			continue
		}
		return upstream, nil
	}
	if lastErr == nil {
		lastErr = ErrNoProvider
	}
	return nil, lastErr
}

// Embed delegates to the first available provider that supports it.
func (f *Failover) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for _, p := range f.available() {
		vecs, err := p.Embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !errors.Is(err, ErrEmbeddingUnsupported) {
			f.markDown(p.Name())
		}
	}
	if lastErr == nil {
		lastErr = ErrEmbeddingUnsupported
	}
	return nil, lastErr
}

// Models concatenates the model lists of every wrapped provider.
func (f *Failover) Models() []string {
	var out []string
	for _, p := range f.providers {
		out = append(out, p.Models()...)
	}
	return out
}

// Name identifies the failover wrapper itself.
func (f *Failover) Name() string { return "failover" }
