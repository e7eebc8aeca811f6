// Package agent implements the think-act-observe loop that drives one
// conversation turn: stream the provider, dispatch any tool calls it asks
// for, feed results back, and repeat until a final answer or a budget is
// exhausted. Tool calls within an iteration run sequentially through
// tools.Dispatcher rather than fanned out in parallel, since a later call
// may depend on a side effect of an earlier one in the same turn; history
// is a flat per-conversation list of Turns rather than branch-aware.
package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/internal/contextmanager"
	"github.com/agentcore/engine/internal/metrics"
	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/scheduler"
	"github.com/agentcore/engine/internal/store"
	"github.com/agentcore/engine/internal/tools"
	"github.com/agentcore/engine/pkg/models"
)

const (
	defaultMaxIterations      = 12
	maxToolFailures           = 2
	maxConsecutiveErrors      = 3
	defaultTempRoot           = "data/tmp"
)

// EventKind discriminates the variant carried by an Event.
type EventKind string

const (
	EventStateChange     EventKind = "state_change"
	EventThinking        EventKind = "thinking"
	EventResponseChunk   EventKind = "response_chunk"
	EventToolCall        EventKind = "tool_call"
	EventToolResult      EventKind = "tool_result"
	EventResponseComplete EventKind = "response_complete"
	EventError           EventKind = "error"
)

// Event is one unit streamed out of RunStream.
type Event struct {
	Kind EventKind

	State string // EventStateChange

	Text string // EventResponseChunk, EventThinking

	ToolName   string          // EventToolCall, EventToolResult
	ToolInput  json.RawMessage // EventToolCall
	ToolResult *models.ToolResult // EventToolResult
	DurationMs int64           // EventToolResult

	Message *models.Message // EventResponseComplete

	Err error // EventError
}

// Config bounds a loop's iteration and failure budgets.
type Config struct {
	// MaxIterations caps think-act-observe iterations. Default 12.
	MaxIterations int

	// TempRoot is the parent directory under which each run gets its own
	// data/tmp/<traceId> working directory. Default "data/tmp".
	TempRoot string

	// Model is passed through to every provider.Request.
	Model string

	// Metrics records loop-level counters. Nil disables recording.
	Metrics *metrics.Loop
}

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.TempRoot == "" {
		cfg.TempRoot = defaultTempRoot
	}
	return cfg
}

// RunOptions parameterizes a single Run/RunStream call.
type RunOptions struct {
	// PreSelectedSkillID routes context-building straight to one skill's
	// instructions instead of letting the context manager's matcher run.
	PreSelectedSkillID string

	// MatchSkill, CreatePlan, DelegateTask, SaveMemory, PromptUser,
	// NotifyUser, and Scheduler are forwarded into every tool call's
	// ExecutionContext. The orchestrator wires concrete closures here.
	MatchSkill   func(ctx context.Context, text string) (*models.Skill, error)
	CreatePlan   func(ctx context.Context, goal string) (*models.Plan, error)
	DelegateTask func(ctx context.Context, prompt string) (string, error)
	SaveMemory   func(ctx context.Context, entry models.MemoryEntry) error
	PromptUser   func(ctx context.Context, question string) (string, error)
	NotifyUser   func(ctx context.Context, message string) error
	Scheduler    *scheduler.Scheduler
}

// Loop runs a single conversation turn to completion. A new Loop is
// created per turn by the orchestrator, kept reachable in an active-loops
// table so Stop can reach it, and discarded once the run finishes.
type Loop struct {
	provider   provider.Provider
	contextMgr *contextmanager.Manager
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	store      store.Store
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	aborted bool
}

// New creates a loop over the given provider, context manager, tool
// registry, and dispatcher.
func New(llm provider.Provider, ctxMgr *contextmanager.Manager, registry *tools.Registry, dispatcher *tools.Dispatcher, st store.Store, cfg Config) *Loop {
	return &Loop{
		provider:   llm,
		contextMgr: ctxMgr,
		registry:   registry,
		dispatcher: dispatcher,
		store:      st,
		cfg:        sanitizeConfig(cfg),
		logger:     slog.Default().With("component", "agent"),
	}
}

// Stop aborts the run in progress. The loop checks the flag before each LLM
// call, between stream chunks, and between tool calls; a stop surfaces as a
// terminal response built from the most recently accumulated text.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.aborted = true
	l.mu.Unlock()
}

func (l *Loop) isAborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

// Run drives RunStream to completion and returns the terminal message.
func (l *Loop) Run(ctx context.Context, input models.Message, convID string, opts RunOptions) (*models.Message, error) {
	events, err := l.RunStream(ctx, input, convID, opts)
	if err != nil {
		return nil, err
	}
	var final *models.Message
	var runErr error
	for ev := range events {
		switch ev.Kind {
		case EventResponseComplete:
			final = ev.Message
		case EventError:
			runErr = ev.Err
		}
	}
	if final != nil {
		return final, nil
	}
	return nil, runErr
}

// runState holds the per-run mutable bookkeeping RunStream's goroutine
// threads through its helper methods.
type runState struct {
	convID     string
	traceID    string
	tempDir    string
	trace             *models.Trace
	iteration         int
	consecutiveErrors int
	lastText          string
	sentFiles         []string
	sentSeen          map[string]bool
	tempHints         string
}

// RunStream executes the think-act-observe loop, emitting Events as it
// goes. The returned channel is closed when the run completes, whether by
// a terminal response, an error, a stop, or exceeding the iteration budget.
func (l *Loop) RunStream(ctx context.Context, input models.Message, convID string, opts RunOptions) (<-chan Event, error) {
	if l.provider == nil {
		return nil, provider.ErrNoProvider
	}
	if convID == "" {
		convID = uuid.NewString()
	}

	rs := &runState{
		convID:   convID,
		traceID:  uuid.NewString(),
		sentSeen: make(map[string]bool),
	}
	rs.tempDir = filepath.Join(l.cfg.TempRoot, rs.traceID)
	if err := os.MkdirAll(rs.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("agent: create temp dir: %w", err)
	}

	imagePaths, err := materializeImages(rs.tempDir, input)
	if err != nil {
		return nil, fmt.Errorf("agent: materialize images: %w", err)
	}
	rs.tempHints = runtimeHints(rs.tempDir, imagePaths)

	rs.trace = &models.Trace{
		ID:             rs.traceID,
		ConversationID: convID,
		UserInput:      extractText(input),
		CreatedAt:      time.Now(),
	}

	if err := l.persistUserTurn(ctx, convID, rs.traceID, input); err != nil {
		return nil, fmt.Errorf("agent: persist user turn: %w", err)
	}

	events := make(chan Event, 32)
	go l.run(ctx, rs, input, opts, events)
	return events, nil
}

func (l *Loop) run(ctx context.Context, rs *runState, input models.Message, opts RunOptions, events chan<- Event) {
	defer close(events)

	for rs.iteration < l.cfg.MaxIterations {
		if l.isAborted() || ctx.Err() != nil {
			l.finishOnStop(ctx, rs, events)
			return
		}
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.Iterations.Inc()
		}

		events <- Event{Kind: EventStateChange, State: "build_context"}
		built, err := l.contextMgr.BuildContext(ctx, rs.convID, input, rs.tempHints, contextmanager.BuildOptions{
			PreSelectedSkillID: opts.PreSelectedSkillID,
			ReuseContext:       rs.iteration >= 1,
			WorkDir:            rs.tempDir,
		})
		if err != nil {
			l.fail(ctx, rs, events, err)
			return
		}
		if built.SkillMatch != nil {
			rs.trace.SkillMatch = built.SkillMatch.Skill.ID
		}
		rs.trace.SystemPrompt = built.SystemPrompt

		events <- Event{Kind: EventStateChange, State: "stream"}
		text, toolCalls, usage, model, err := l.streamOnce(ctx, rs, built, events)
		if err != nil {
			l.fail(ctx, rs, events, err)
			return
		}
		rs.lastText = text
		rs.trace.Model = model
		rs.trace.AppendStep(models.TraceStep{
			Kind:      models.StepLLMCall,
			Iteration: rs.iteration,
			TokensIn:  usage.TokensIn,
			TokensOut: usage.TokensOut,
			Text:      text,
		})

		if l.isAborted() || ctx.Err() != nil {
			l.finishOnStop(ctx, rs, events)
			return
		}

		if len(toolCalls) == 0 {
			l.finishWithResponse(ctx, rs, text, usage, events)
			return
		}

		if err := l.persistAssistantToolTurn(ctx, rs, text, toolCalls, usage); err != nil {
			l.fail(ctx, rs, events, err)
			return
		}

		execCtx := l.buildExecutionContext(rs, opts)
		allErrored, allUseSkill, autoComplete := l.dispatchTools(ctx, rs, toolCalls, &execCtx, events)

		if autoComplete && !allErrored {
			l.finishAutoComplete(ctx, rs, usage, events)
			return
		}

		if allErrored {
			rs.consecutiveErrors++
		} else {
			rs.consecutiveErrors = 0
		}

		if allUseSkill {
			// Skill loading doesn't consume the iteration budget.
			continue
		}
		rs.iteration++

		if rs.consecutiveErrors >= maxConsecutiveErrors {
			l.finishOnRepeatedErrors(ctx, rs, events)
			return
		}
	}

	l.finishMaxIterations(ctx, rs, events)
}

// streamOnce calls the provider and accumulates text and tool-call
// argument fragments, yielding response_chunk events for text as it goes.
func (l *Loop) streamOnce(ctx context.Context, rs *runState, built *contextmanager.Built, events chan<- Event) (string, []models.ToolCall, provider.Usage, string, error) {
	req := provider.Request{
		Model:        l.cfg.Model,
		SystemPrompt: built.SystemPrompt,
		Messages:     built.Messages,
		Tools:        l.registry.Definitions(),
	}

	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, provider.Usage{}, "", err
	}

	var textBuilder strings.Builder
	var order []string
	pending := make(map[string]*pendingCall)
	var usage provider.Usage
	var model string

	for chunk := range stream {
		if l.isAborted() || ctx.Err() != nil {
			break
		}
		if chunk.Err != nil {
			return textBuilder.String(), nil, usage, model, chunk.Err
		}
		switch chunk.Kind {
		case provider.ChunkText:
			textBuilder.WriteString(chunk.Text)
			events <- Event{Kind: EventResponseChunk, Text: chunk.Text}
		case provider.ChunkToolUseStart:
			pending[chunk.ToolUseID] = &pendingCall{name: chunk.ToolName, input: chunk.ToolInput}
			order = append(order, chunk.ToolUseID)
		case provider.ChunkToolUseDelta:
			if len(order) > 0 {
				if pc, ok := pending[order[len(order)-1]]; ok {
					pc.input += chunk.InputFragment
				}
			}
		case provider.ChunkDone:
			usage = chunk.Usage
			model = chunk.DoneModel
		}
	}

	toolCalls := make([]models.ToolCall, 0, len(order))
	for _, id := range order {
		pc := pending[id]
		toolCalls = append(toolCalls, models.ToolCall{ID: id, Name: pc.name, Input: parseToolInput(pc.input)})
	}

	return textBuilder.String(), toolCalls, usage, model, nil
}

type pendingCall struct {
	name  string
	input string
}

// parseToolInput tries to parse raw as JSON; on failure it wraps the raw
// string under a "_raw" key so a malformed argument never crashes a tool.
func parseToolInput(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	wrapped, err := json.Marshal(map[string]string{"_raw": raw})
	if err != nil {
		return json.RawMessage("{}")
	}
	return wrapped
}

func (l *Loop) buildExecutionContext(rs *runState, opts RunOptions) tools.ExecutionContext {
	return tools.ExecutionContext{
		ConversationID:       rs.convID,
		WorkDir:              rs.tempDir,
		OriginalUserText:     rs.trace.UserInput,
		PromptUser:           opts.PromptUser,
		NotifyUser:           opts.NotifyUser,
		SendFile:             l.sendFileCallback(rs),
		SaveMemory:           opts.SaveMemory,
		Scheduler:            opts.Scheduler,
		MatchSkill:           opts.MatchSkill,
		CreatePlan:           opts.CreatePlan,
		DelegateTask:         opts.DelegateTask,
		PreSelectedSkillName: opts.PreSelectedSkillID,
		SentFiles:            &rs.sentFiles,
	}
}

func (l *Loop) sendFileCallback(rs *runState) func(ctx context.Context, path string) error {
	return func(ctx context.Context, path string) error {
		if rs.sentSeen[path] {
			return nil
		}
		rs.sentSeen[path] = true
		rs.sentFiles = append(rs.sentFiles, path)
		return nil
	}
}

// dispatchTools runs every tool call sequentially through the dispatcher,
// enforcing the per-tool failure circuit breaker, yielding tool_call and
// tool_result events, and persisting each result as a tool-role turn.
func (l *Loop) dispatchTools(ctx context.Context, rs *runState, calls []models.ToolCall, execCtx *tools.ExecutionContext, events chan<- Event) (allErrored, allUseSkill, autoComplete bool) {
	allErrored = true
	allUseSkill = true
	results := make([]models.ToolResult, 0, len(calls))

	for _, call := range calls {
		if l.isAborted() || ctx.Err() != nil {
			break
		}

		events <- Event{Kind: EventToolCall, ToolName: call.Name, ToolInput: call.Input}

		key := tools.FailureKeyFor(call)
		if l.dispatcher.FailureCount(key) >= maxToolFailures {
			res := models.ToolResult{
				ToolUseID: call.ID,
				Content:   fmt.Sprintf("tool %q has failed %d times in a row; stop retrying it and try a different approach", call.Name, maxToolFailures),
				IsError:   true,
			}
			allUseSkill = false
			results = append(results, res)
			rs.trace.AppendStep(models.TraceStep{Kind: models.StepToolResult, ToolName: call.Name, Content: res.Content, IsError: true})
			events <- Event{Kind: EventToolResult, ToolName: call.Name, ToolResult: &res}
			l.persistToolTurn(ctx, rs, call, res)
			continue
		}

		rs.trace.AppendStep(models.TraceStep{Kind: models.StepToolCall, ToolName: call.Name, ToolInput: call.Input})

		start := time.Now()
		dispatched, err := l.dispatcher.DispatchAll(ctx, []models.ToolCall{call}, *execCtx)
		duration := time.Since(start).Milliseconds()
		if err != nil || len(dispatched) == 0 || dispatched[0].Result == nil {
			res := models.ToolResult{ToolUseID: call.ID, Content: "tool dispatch failed", IsError: true}
			allUseSkill = false
			results = append(results, res)
			events <- Event{Kind: EventToolResult, ToolName: call.Name, ToolResult: &res, DurationMs: duration}
			l.persistToolTurn(ctx, rs, call, res)
			continue
		}

		res := *dispatched[0].Result
		if !isUseSkillResult(res) {
			allUseSkill = false
		}
		results = append(results, res)
		rs.trace.AppendStep(models.TraceStep{Kind: models.StepToolResult, ToolName: call.Name, Content: res.Content, IsError: res.IsError, DurationMs: duration})
		events <- Event{Kind: EventToolResult, ToolName: call.Name, ToolResult: &res, DurationMs: duration}
		l.persistToolTurn(ctx, rs, call, res)

		if !res.IsError {
			allErrored = false
		}
		if res.AutoComplete {
			autoComplete = true
		}
	}

	if len(results) == 0 {
		allErrored = false
	}
	return allErrored, allUseSkill, autoComplete
}

// isUseSkillResult reports whether res came from the registry's use_skill
// reroute rather than an ordinary tool call, which the registry signals via
// result metadata since the rerouted call itself carries the skill's own
// name or id, not the literal string "use_skill".
func isUseSkillResult(res models.ToolResult) bool {
	if res.Metadata == nil {
		return false
	}
	_, ok := res.Metadata["use_skill"]
	return ok
}

func (l *Loop) finishWithResponse(ctx context.Context, rs *runState, text string, usage provider.Usage, events chan<- Event) {
	final := finalizeWithSentFiles(text, rs.sentFiles)
	l.persistFinalAssistantTurn(ctx, rs, final, usage)
	rs.trace.Response = final
	rs.trace.TokensIn = usage.TokensIn
	rs.trace.TokensOut = usage.TokensOut
	l.saveTrace(ctx, rs)
	events <- Event{Kind: EventResponseComplete, Message: &models.Message{Role: models.RoleAssistant, Text: final}}
}

func (l *Loop) finishAutoComplete(ctx context.Context, rs *runState, usage provider.Usage, events chan<- Event) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.AutoCompletions.Inc()
	}
	text := rs.lastText
	if strings.TrimSpace(text) == "" {
		text = "Done."
	}
	l.finishWithResponse(ctx, rs, text, usage, events)
}

func (l *Loop) finishOnStop(ctx context.Context, rs *runState, events chan<- Event) {
	text := rs.lastText
	if strings.TrimSpace(text) == "" {
		text = "Stopped."
	}
	final := finalizeWithSentFiles(text, rs.sentFiles)
	l.persistFinalAssistantTurn(ctx, rs, final, provider.Usage{})
	rs.trace.Response = final
	rs.trace.Error = "stopped"
	l.saveTrace(ctx, rs)
	events <- Event{Kind: EventResponseComplete, Message: &models.Message{Role: models.RoleAssistant, Text: final}}
}

func (l *Loop) finishOnRepeatedErrors(ctx context.Context, rs *runState, events chan<- Event) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.Failures.WithLabelValues("repeated_errors").Inc()
	}
	text := rs.lastText
	if strings.TrimSpace(text) == "" {
		text = "I ran into repeated tool errors and couldn't make progress. Could you try a different approach?"
	}
	final := finalizeWithSentFiles(text, rs.sentFiles)
	l.persistFinalAssistantTurn(ctx, rs, final, provider.Usage{})
	rs.trace.Response = final
	rs.trace.Error = fmt.Sprintf("%d consecutive iterations with only tool errors", maxConsecutiveErrors)
	l.saveTrace(ctx, rs)
	events <- Event{Kind: EventResponseComplete, Message: &models.Message{Role: models.RoleAssistant, Text: final}}
}

func (l *Loop) finishMaxIterations(ctx context.Context, rs *runState, events chan<- Event) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.Failures.WithLabelValues("max_iterations").Inc()
	}
	text := rs.lastText
	if strings.TrimSpace(text) == "" {
		text = "I wasn't able to finish this within the allotted number of steps. Could you narrow the request?"
	}
	l.persistFinalAssistantTurn(ctx, rs, text, provider.Usage{})
	rs.trace.Response = text
	rs.trace.Error = "max_iterations_reached"
	l.saveTrace(ctx, rs)
	events <- Event{Kind: EventResponseComplete, Message: &models.Message{Role: models.RoleAssistant, Text: text}}
}

func (l *Loop) fail(ctx context.Context, rs *runState, events chan<- Event, err error) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.Failures.WithLabelValues("error").Inc()
	}
	rs.trace.Error = err.Error()
	l.saveTrace(ctx, rs)
	events <- Event{Kind: EventError, Err: err}
}

func (l *Loop) saveTrace(ctx context.Context, rs *runState) {
	rs.trace.DurationMs = time.Since(rs.trace.CreatedAt).Milliseconds()
	if err := l.store.SaveTrace(ctx, rs.trace); err != nil {
		l.logger.Warn("failed to save trace", "trace_id", rs.trace.ID, "error", err)
	}
}

func (l *Loop) persistUserTurn(ctx context.Context, convID, traceID string, input models.Message) error {
	content := input.Text
	if input.HasBlocks() {
		data, err := json.Marshal(input.Blocks)
		if err == nil {
			content = string(data)
		}
	}
	return l.store.CreateTurn(ctx, &models.Turn{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           models.RoleUser,
		Content:        content,
		TraceID:        traceID,
		CreatedAt:      time.Now(),
	})
}

func (l *Loop) persistAssistantToolTurn(ctx context.Context, rs *runState, text string, calls []models.ToolCall, usage provider.Usage) error {
	return l.store.CreateTurn(ctx, &models.Turn{
		ID:             uuid.NewString(),
		ConversationID: rs.convID,
		Role:           models.RoleAssistant,
		Content:        text,
		ToolCalls:      calls,
		Model:          rs.trace.Model,
		TokensIn:       usage.TokensIn,
		TokensOut:      usage.TokensOut,
		ToolCallCount:  len(calls),
		TraceID:        rs.traceID,
		CreatedAt:      time.Now(),
	})
}

func (l *Loop) persistToolTurn(ctx context.Context, rs *runState, call models.ToolCall, res models.ToolResult) {
	res.ToolUseID = call.ID
	if err := l.store.CreateTurn(ctx, &models.Turn{
		ID:             uuid.NewString(),
		ConversationID: rs.convID,
		Role:           models.RoleTool,
		ToolResults:    []models.ToolResult{res},
		TraceID:        rs.traceID,
		CreatedAt:      time.Now(),
	}); err != nil {
		l.logger.Warn("failed to persist tool turn", "conversation_id", rs.convID, "error", err)
	}
}

func (l *Loop) persistFinalAssistantTurn(ctx context.Context, rs *runState, text string, usage provider.Usage) {
	if err := l.store.CreateTurn(ctx, &models.Turn{
		ID:             uuid.NewString(),
		ConversationID: rs.convID,
		Role:           models.RoleAssistant,
		Content:        text,
		Model:          rs.trace.Model,
		TokensIn:       usage.TokensIn,
		TokensOut:      usage.TokensOut,
		TraceID:        rs.traceID,
		CreatedAt:      time.Now(),
	}); err != nil {
		l.logger.Warn("failed to persist final assistant turn", "conversation_id", rs.convID, "error", err)
	}
}

func extractText(msg models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	var sb strings.Builder
	for _, b := range msg.Blocks {
		if b.Type == models.BlockText {
			sb.WriteString(b.Text)
			sb.WriteString(" ")
		}
	}
	return strings.TrimSpace(sb.String())
}

// materializeImages writes every image block in input to tempDir and
// returns the paths written, in block order.
func materializeImages(tempDir string, input models.Message) ([]string, error) {
	var paths []string
	for i, b := range input.Blocks {
		if b.Type != models.BlockImage || b.ImageBase64 == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(b.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("decode image block %d: %w", i, err)
		}
		ext := extensionForMediaType(b.ImageMediaType)
		path := filepath.Join(tempDir, fmt.Sprintf("image_%d%s", i, ext))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write image block %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func extensionForMediaType(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// runtimeHints builds the text block appended to the user message on every
// iteration: the per-trace working directory and any materialized image
// paths. It is never persisted, only injected at call time.
func runtimeHints(tempDir string, imagePaths []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n\n[Working directory: %s]", tempDir))
	if len(imagePaths) > 0 {
		sb.WriteString(fmt.Sprintf("\n[Images: %s]", strings.Join(imagePaths, ", ")))
	}
	return sb.String()
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".svg": true,
}

// finalizeWithSentFiles appends markdown links for every sent file whose
// name isn't already mentioned in text: image links for common image
// extensions, plain links otherwise.
func finalizeWithSentFiles(text string, sentFiles []string) string {
	if len(sentFiles) == 0 {
		return text
	}
	names := make([]string, len(sentFiles))
	copy(names, sentFiles)
	sort.Strings(names)

	var sb bytes.Buffer
	sb.WriteString(text)
	for _, path := range names {
		name := filepath.Base(path)
		if strings.Contains(text, name) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if imageExtensions[ext] {
			sb.WriteString(fmt.Sprintf("![%s](%s)", name, path))
		} else {
			sb.WriteString(fmt.Sprintf("[%s](%s)", name, path))
		}
	}
	return sb.String()
}
