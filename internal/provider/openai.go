package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/engine/pkg/models"
)

// OpenAIProvider adapts go-openai to the Provider interface. It is also
// used for self-hosted OpenAI-compatible backends via BaseURL.
type OpenAIProvider struct {
	client         *openai.Client
	maxRetries     int
	retryDelay     time.Duration
	defaultModel   string
	embeddingModel string
}

// OpenAIConfig holds the construction parameters for an OpenAIProvider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // optional, for OpenAI-compatible self-hosted backends
	DefaultModel   string
	EmbeddingModel string
	MaxRetries     int
	RetryDelay     time.Duration
}

// NewOpenAIProvider builds a client from cfg, applying defaults.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		defaultModel:   cfg.DefaultModel,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// Name identifies this provider for failover bookkeeping and logging.
func (p *OpenAIProvider) Name() string { return "openai" }

// Models lists the chat model identifiers this provider can serve.
func (p *OpenAIProvider) Models() []string {
	return []string{"gpt-4o", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"}
}

func (p *OpenAIProvider) model(m string) string {
	if m == "" {
		return p.defaultModel
	}
	return m
}

// Chat drains Stream into a single accumulated Chunk.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (Chunk, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return Chunk{}, err
	}
	var text strings.Builder
	var usage Usage
	for c := range ch {
		if c.Kind == ChunkText {
			text.WriteString(c.Text)
		}
		if c.Kind == ChunkDone {
			if c.Err != nil {
				return Chunk{}, c.Err
			}
			usage = c.Usage
		}
	}
	return Chunk{Kind: ChunkDone, Text: text.String(), Usage: usage, DoneModel: p.model(req.Model)}, nil
}

// Stream issues a streaming chat completion, retrying transient failures
// with linear backoff before the stream is established.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: p.convertMessages(req.Messages, req.SystemPrompt),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	out := make(chan Chunk)
	go p.pump(ctx, stream, out)
	return out, nil
}

func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- Chunk) {
	defer close(out)
	defer stream.Close()

	type building struct {
		id, name string
		input    strings.Builder
	}
	calls := map[int]*building{}
	order := []int{}

	flush := func() {
		for _, idx := range order {
			b := calls[idx]
			if b.id != "" && b.name != "" {
				out <- Chunk{Kind: ChunkToolUseStart, ToolUseID: b.id, ToolName: b.name, ToolInput: b.input.String()}
			}
		}
		calls = map[int]*building{}
		order = nil
	}

	var tokensOut int
	for {
		select {
		case <-ctx.Done():
			out <- Chunk{Kind: ChunkDone, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				out <- Chunk{Kind: ChunkDone, Usage: Usage{TokensOut: tokensOut}}
				return
			}
			out <- Chunk{Kind: ChunkDone, Err: err}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			tokensOut += len(delta.Content) / 4
			out <- Chunk{Kind: ChunkText, Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := calls[idx]
			if !ok {
				b = &building{}
				calls[idx] = b
				order = append(order, idx)
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				b.input.WriteString(tc.Function.Arguments)
			}
		}
		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// Embed calls the embeddings endpoint, returning one vector per input text.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, b := range msg.Blocks {
				if b.Type == models.BlockToolResult {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    b.ToolResultText,
						ToolCallID: b.ToolResultForID,
					})
				}
			}
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text}
			for _, b := range msg.Blocks {
				if b.Type == models.BlockToolUse {
					oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
						ID:   b.ToolUseID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.ToolName,
							Arguments: string(b.ToolInput),
						},
					})
				}
			}
			result = append(result, oaiMsg)
		default:
			role := openai.ChatMessageRoleUser
			if msg.Role == models.RoleSystem {
				role = openai.ChatMessageRoleSystem
			}
			oaiMsg := openai.ChatCompletionMessage{Role: role, Content: msg.Text}
			var parts []openai.ChatMessagePart
			for _, b := range msg.Blocks {
				if b.Type == models.BlockImage {
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: "data:" + b.ImageMediaType + ";base64," + b.ImageBase64, Detail: openai.ImageURLDetailAuto},
					})
				}
			}
			if len(parts) > 0 {
				if msg.Text != "" {
					parts = append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: msg.Text}}, parts...)
				}
				oaiMsg.MultiContent = parts
				oaiMsg.Content = ""
			}
			result = append(result, oaiMsg)
		}
	}
	return result
}

func (p *OpenAIProvider) convertTools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
