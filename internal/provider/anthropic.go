// Package provider's Anthropic adapter wraps the official SDK behind the
// narrow Provider interface (see Stream for how errors are reported).
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentcore/engine/pkg/models"
)

// AnthropicProvider adapts anthropic-sdk-go to the Provider interface.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig holds the construction parameters for an AnthropicProvider.
// Only APIKey is required; the rest default to sensible values.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider validates config, applies defaults, and builds the
// underlying SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name identifies this provider for failover bookkeeping and logging.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models lists the Claude model identifiers this provider can serve.
func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-sonnet-20241022",
		"claude-3-haiku-20240307",
	}
}

func (p *AnthropicProvider) model(m string) string {
	if m == "" {
		return p.defaultModel
	}
	return m
}

func maxTokensOrDefault(n int) int64 {
	if n <= 0 {
		return 4096
	}
	return int64(n)
}

// Chat drains Stream into a single Chunk, concatenating text; tool-use
// chunks are dropped (callers that need tool calls use Stream directly).
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (Chunk, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return Chunk{}, err
	}
	var text strings.Builder
	var usage Usage
	model := p.model(req.Model)
	for c := range ch {
		switch c.Kind {
		case ChunkText:
			text.WriteString(c.Text)
		case ChunkDone:
			usage = c.Usage
			if c.Err != nil {
				return Chunk{}, c.Err
			}
		}
	}
	return Chunk{Kind: ChunkDone, Text: text.String(), Usage: usage, DoneModel: model}, nil
}

// Stream issues a streaming message request. The loop around createStream
// backs off exponentially (base * 2^attempt) on a retryable error, but
// createStream never returns one: the SDK reports connection and HTTP
// errors through the stream itself, so there is a single attempt and such
// an error arrives as a ChunkDone chunk without being retried.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		var stream *anthropicStream
		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, lastErr = p.createStream(ctx, params)
			if lastErr == nil {
				break
			}
			wrapped := p.wrapError(lastErr)
			if !isRetryableAnthropicError(wrapped) || attempt == p.maxRetries {
				out <- Chunk{Kind: ChunkDone, Err: wrapped}
				return
			}
			backoff := time.Duration(float64(p.retryDelay) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				out <- Chunk{Kind: ChunkDone, Err: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}

		p.pump(stream, out)
	}()
	return out, nil
}

// Embed is unsupported: Anthropic has no first-class embeddings endpoint.
func (p *AnthropicProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrEmbeddingUnsupported
}

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}
	tools, err := p.convertTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	return params, nil
}

func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		if msg.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
		}
		for _, b := range msg.Blocks {
			switch b.Type {
			case models.BlockToolUse:
				var input map[string]any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input: %w", err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResultForID, b.ToolResultText, b.ToolResultError))
			case models.BlockImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(b.ImageMediaType, b.ImageBase64))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

// anthropicSSEStream is an alias of the SDK's stream event union type; the
// stream handle itself is anthropicStream below.
type anthropicSSEStream = anthropic.MessageStreamEventUnion

func (p *AnthropicProvider) createStream(ctx context.Context, params anthropic.MessageNewParams) (*anthropicStream, error) {
	s := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{s: s}, nil
}

// anthropicStream is a thin handle so createStream/pump can be tested
// without pulling the SDK's ssestream generic into every signature.
type anthropicStream struct {
	s interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
	}
}

const maxEmptyStreamEvents = 50

func (p *AnthropicProvider) pump(stream *anthropicStream, out chan<- Chunk) {
	var toolID, toolName string
	var toolInput strings.Builder
	inTool := false
	empty := 0
	var inputTokens, outputTokens int

	for stream.s.Next() {
		event := stream.s.Current()
		handled := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
			handled = true

		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			if cb.Type == "tool_use" {
				tu := cb.AsToolUse()
				toolID, toolName = tu.ID, tu.Name
				toolInput.Reset()
				inTool = true
				out <- Chunk{Kind: ChunkToolUseStart, ToolUseID: toolID, ToolName: toolName}
				handled = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- Chunk{Kind: ChunkText, Text: delta.Text}
					handled = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					out <- Chunk{Kind: ChunkToolUseDelta, ToolUseID: toolID, InputFragment: delta.PartialJSON}
					handled = true
				}
			}

		case "content_block_stop":
			if inTool {
				inTool = false
				handled = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			handled = true

		case "message_stop":
			out <- Chunk{Kind: ChunkDone, Usage: Usage{TokensIn: inputTokens, TokensOut: outputTokens}}
			return

		case "error":
			out <- Chunk{Kind: ChunkDone, Err: p.wrapError(errors.New("anthropic stream error"))}
			return
		}

		if handled {
			empty = 0
		} else if empty++; empty >= maxEmptyStreamEvents {
			out <- Chunk{Kind: ChunkDone, Err: fmt.Errorf("anthropic: stream appears malformed after %d empty events", empty)}
			return
		}
	}

	if err := stream.s.Err(); err != nil {
		out <- Chunk{Kind: ChunkDone, Err: p.wrapError(err)}
	}
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("anthropic: %w", err)
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
