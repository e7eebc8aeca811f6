// Package orchestrator owns the session table and the map of active agent
// loops, routes each user turn to the right provider, merges transport-
// supplied callbacks with the services the agent loop needs (memory,
// scheduler, planner, skill matching, task delegation), and fires
// background memory extraction after each turn. Single-provider-family,
// single-loop-per-turn model: one agent loop runs per turn, recorded in
// the active-loops map for the duration of that turn only.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/contextmanager"
	"github.com/agentcore/engine/internal/memory"
	"github.com/agentcore/engine/internal/metrics"
	"github.com/agentcore/engine/internal/planner"
	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/scheduler"
	"github.com/agentcore/engine/internal/skills"
	"github.com/agentcore/engine/internal/store"
	"github.com/agentcore/engine/internal/tools"
	"github.com/agentcore/engine/pkg/models"
)

const (
	// delegateMaxIterations bounds a sub-agent spawned via DelegateTask or a
	// single plan step, independent of the top-level turn's MaxIterations.
	delegateMaxIterations = 8

	// similarityThreshold mirrors internal/memory's dedup threshold for the
	// saveMemory closure tools call directly (outside the background
	// extractor's own pass).
	similarityThreshold = 0.75

	// heartbeatAction is the sentinel ScheduledTask.Action the orchestrator
	// recognizes as "run a heartbeat check-in", as opposed to a
	// user-authored scheduled action string passed through to a tool.
	heartbeatAction = "__heartbeat_checkin__"
)

// simpleChatMaxChars bounds how long an input can be and still count as
// "simple chat" for fast-provider routing.
const simpleChatMaxChars = 200

var (
	urlPattern  = regexp.MustCompile(`https?://`)
	pathPattern = regexp.MustCompile(`(^|\s)(/|\./|~/|[A-Za-z]:\\)\S+`)
	codePattern = regexp.MustCompile("```|\\bfunc \\b|\\bdef \\b|\\bclass \\b|[{};]")
)

// Dependencies wires every collaborator the orchestrator needs. All
// providers and stores must be non-nil except VisionProvider and
// FastProvider, which are optional routing targets.
type Dependencies struct {
	DefaultProvider provider.Provider
	VisionProvider  provider.Provider
	FastProvider    provider.Provider

	ContextMgr *contextmanager.Manager
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Store      store.Store
	Skills     *skills.Registry
	Scheduler  *scheduler.Scheduler

	TempRoot      string
	MaxIterations int

	Heartbeat HeartbeatConfig

	// Metrics records agent-loop counters. Nil disables recording.
	Metrics *metrics.Loop
}

// UserContext carries the transport-supplied callbacks for a single turn:
// how to ask the user a clarifying question and how to push a
// notification.
type UserContext struct {
	PromptUser func(ctx context.Context, question string) (string, error)
	NotifyUser func(ctx context.Context, message string) error
}

// Orchestrator owns the session table (an in-memory cache over the store),
// the active-loops map, and a per-conversation turn counter, all guarded by
// a single mutex — mutated only here; every other package reaches these
// services only through the function-shaped seams passed into RunOptions.
type Orchestrator struct {
	deps Dependencies

	planner   *planner.Planner
	extractor *memory.Extractor
	heartbeat *HeartbeatMonitor
	logger    *slog.Logger

	mu           sync.Mutex
	sessions     map[string]*models.Session
	activeLoops  map[string]*agent.Loop
	turnCounters map[string]int
}

// New builds an Orchestrator and its owned Planner (wired with the
// orchestrator's own step runner so plan steps run through the agent loop
// without the planner importing internal/agent directly).
func New(deps Dependencies) *Orchestrator {
	if deps.MaxIterations == 0 {
		deps.MaxIterations = 12
	}
	if deps.TempRoot == "" {
		deps.TempRoot = "data/tmp"
	}
	if deps.Heartbeat == (HeartbeatConfig{}) {
		deps.Heartbeat = DefaultHeartbeatConfig()
	}

	o := &Orchestrator{
		deps:         deps,
		extractor:    memory.New(deps.Store, deps.DefaultProvider),
		heartbeat:    NewHeartbeatMonitor(deps.Heartbeat),
		logger:       slog.Default().With("component", "orchestrator"),
		sessions:     make(map[string]*models.Session),
		activeLoops:  make(map[string]*agent.Loop),
		turnCounters: make(map[string]int),
	}
	o.planner = planner.New(deps.DefaultProvider, o.runPlanStep)
	return o
}

// GetOrCreateSession returns the cached session for id, loading it from the
// store on a cache miss, or creating a fresh one (conversation id equal to
// the session id) if it doesn't exist anywhere yet.
func (o *Orchestrator) GetOrCreateSession(ctx context.Context, id string) (*models.Session, error) {
	o.mu.Lock()
	if s, ok := o.sessions[id]; ok {
		o.mu.Unlock()
		return s, nil
	}
	o.mu.Unlock()

	if s, err := o.deps.Store.GetSession(ctx, id); err == nil && s != nil {
		o.mu.Lock()
		o.sessions[id] = s
		o.mu.Unlock()
		return s, nil
	}

	now := time.Now()
	s := &models.Session{ID: id, ConversationID: id, CreatedAt: now, LastActiveAt: now}
	if err := o.deps.Store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("orchestrator: create session: %w", err)
	}
	o.mu.Lock()
	o.sessions[id] = s
	o.mu.Unlock()
	return s, nil
}

// ProcessInputStream touches the session, picks a provider, builds the
// merged tool-execution context, starts an agent loop, and streams its
// events. After the stream ends it sweeps the turn's ephemeral temp
// scripts, bumps the turn counter, fires memory extraction if due, and
// derives the session title on the first turn.
func (o *Orchestrator) ProcessInputStream(ctx context.Context, sessionID string, input models.Message, userCtx UserContext) (<-chan agent.Event, error) {
	session, err := o.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.LastActiveAt = time.Now()
	if err := o.deps.Store.UpdateSession(ctx, session); err != nil {
		o.logger.Warn("touch session failed", "session_id", sessionID, "error", err)
	}

	convID := session.ConversationID
	chosenProvider := o.pickProvider(input)

	loop := agent.New(chosenProvider, o.deps.ContextMgr, o.deps.Registry, o.deps.Dispatcher, o.deps.Store, agent.Config{
		MaxIterations: o.deps.MaxIterations,
		TempRoot:      o.deps.TempRoot,
		Metrics:       o.deps.Metrics,
	})

	o.mu.Lock()
	o.activeLoops[sessionID] = loop
	o.mu.Unlock()

	opts := agent.RunOptions{
		MatchSkill:   o.matchSkill,
		CreatePlan:   o.planner.CreatePlan,
		DelegateTask: o.delegateTask,
		SaveMemory:   o.saveMemory,
		PromptUser:   userCtx.PromptUser,
		NotifyUser:   userCtx.NotifyUser,
		Scheduler:    o.deps.Scheduler,
	}

	events, err := loop.RunStream(ctx, input, convID, opts)
	if err != nil {
		o.mu.Lock()
		delete(o.activeLoops, sessionID)
		o.mu.Unlock()
		return nil, err
	}

	out := make(chan agent.Event)
	go func() {
		defer close(out)
		for ev := range events {
			out <- ev
		}
		o.finishTurn(ctx, sessionID, convID, input)
	}()
	return out, nil
}

// finishTurn runs the end-of-stream housekeeping: remove the loop from the
// active map, sweep ephemeral temp scripts, bump the turn counter, fire
// memory extraction asynchronously if due, and set the session title on
// the first turn.
func (o *Orchestrator) finishTurn(ctx context.Context, sessionID, convID string, input models.Message) {
	o.mu.Lock()
	delete(o.activeLoops, sessionID)
	o.turnCounters[convID]++
	count := o.turnCounters[convID]
	session := o.sessions[sessionID]
	o.mu.Unlock()

	sweepEphemeralScripts(filepath.Join(o.deps.TempRoot))

	if session != nil && session.Title == "" {
		if text := extractMessageText(input); text != "" {
			session.Title = models.DeriveTitle(text)
			if err := o.deps.Store.UpdateSession(ctx, session); err != nil {
				o.logger.Warn("set session title failed", "session_id", sessionID, "error", err)
			}
		}
	}

	if memory.ShouldRun(count) {
		go o.extractor.Run(context.Background(), convID)
	}
}

// StopSession looks up the active loop for id and calls its Stop.
func (o *Orchestrator) StopSession(id string) bool {
	o.mu.Lock()
	loop, ok := o.activeLoops[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	loop.Stop()
	return true
}

// CloseSession deletes session state: the cached session, any active loop
// entry, the turn counter, and heartbeat tracking.
func (o *Orchestrator) CloseSession(ctx context.Context, id string) error {
	o.mu.Lock()
	session, ok := o.sessions[id]
	delete(o.sessions, id)
	delete(o.activeLoops, id)
	if ok {
		delete(o.turnCounters, session.ConversationID)
	}
	o.mu.Unlock()

	if ok {
		o.heartbeat.Remove(session.ConversationID)
		o.deps.ContextMgr.InvalidateConversation(session.ConversationID)
	}
	return o.deps.Store.DeleteSession(ctx, id)
}

// Planner exposes the orchestrator's own Planner instance so a CLI or
// other host can create/list/execute plans through the same planner the
// agent loop's plan tools delegate to.
func (o *Orchestrator) Planner() *planner.Planner {
	return o.planner
}

// pickProvider chooses vision if input carries image blocks and a vision
// provider is configured, else the fast provider for simple chat input,
// else the default.
func (o *Orchestrator) pickProvider(input models.Message) provider.Provider {
	if o.deps.VisionProvider != nil && hasImageBlock(input) {
		return o.deps.VisionProvider
	}
	if o.deps.FastProvider != nil && isSimpleChat(extractMessageText(input)) {
		return o.deps.FastProvider
	}
	return o.deps.DefaultProvider
}

func hasImageBlock(msg models.Message) bool {
	for _, b := range msg.Blocks {
		if b.Type == models.BlockImage {
			return true
		}
	}
	return false
}

// isSimpleChat reports whether text is short, plain conversational input:
// no URLs, no filesystem paths, no code markers.
func isSimpleChat(text string) bool {
	if text == "" || len([]rune(text)) > simpleChatMaxChars {
		return false
	}
	if urlPattern.MatchString(text) || pathPattern.MatchString(text) || codePattern.MatchString(text) {
		return false
	}
	return true
}

func extractMessageText(msg models.Message) string {
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

// matchSkill adapts the skill registry's ranked Match into the single-best
// MatchSkill seam tools and the agent loop expect.
func (o *Orchestrator) matchSkill(ctx context.Context, text string) (*models.Skill, error) {
	if o.deps.Skills == nil {
		return nil, fmt.Errorf("orchestrator: no skill registry configured")
	}
	matches := o.deps.Skills.Match(text, nil)
	if len(matches) == 0 {
		return nil, fmt.Errorf("orchestrator: no skill matched %q", text)
	}
	return &matches[0].Skill, nil
}

// saveMemory is the orchestrator-owned memory-write seam a tool call uses
// directly (distinct from the background extractor's own periodic pass):
// it embeds the content, dedups against the most similar existing entry
// via findSimilar, and either bumps that entry's importance or inserts a
// fresh row.
func (o *Orchestrator) saveMemory(ctx context.Context, entry models.MemoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.AccessedAt = now
	entry.Importance = models.ClampImportance(entry.Importance)

	if entry.Embedding == nil && o.deps.DefaultProvider != nil {
		if vecs, err := o.deps.DefaultProvider.Embed(ctx, []string{entry.Content}); err == nil && len(vecs) > 0 {
			entry.Embedding = vecs[0]
		}
	}

	if existing, err := o.deps.Store.FindSimilarMemory(ctx, entry.ConversationID, entry.Type, entry.Embedding, similarityThreshold); err == nil && existing != nil {
		if entry.Importance > existing.Importance {
			existing.Importance = entry.Importance
			return o.deps.Store.UpsertMemory(ctx, existing)
		}
		return nil
	}
	return o.deps.Store.UpsertMemory(ctx, &entry)
}

// delegateTask spawns a sub-agent sharing this orchestrator's providers and
// tools, with its own conversation id and a reduced iteration budget, and
// without a DelegateTask seam of its own — delegation is single-level.
func (o *Orchestrator) delegateTask(ctx context.Context, prompt string) (string, error) {
	return o.runSubTurn(ctx, uuid.NewString(), prompt)
}

// runPlanStep is the planner.StepRunner implementation: each step runs as
// its own sub-conversation through a sub-agent loop, likewise without
// further delegation or planning.
func (o *Orchestrator) runPlanStep(ctx context.Context, conversationID, prompt string) (string, error) {
	return o.runSubTurn(ctx, conversationID, prompt)
}

// runSubTurn runs prompt through a fresh agent loop against the default
// provider, bounded by delegateMaxIterations, with no DelegateTask seam of
// its own — every sub-turn (delegated task, plan step, heartbeat check-in)
// is single-level: it cannot spawn further sub-agents or plans.
func (o *Orchestrator) runSubTurn(ctx context.Context, conversationID, prompt string) (string, error) {
	loop := agent.New(o.deps.DefaultProvider, o.deps.ContextMgr, o.deps.Registry, o.deps.Dispatcher, o.deps.Store, agent.Config{
		MaxIterations: delegateMaxIterations,
		TempRoot:      o.deps.TempRoot,
		Metrics:       o.deps.Metrics,
	})

	opts := agent.RunOptions{
		MatchSkill: o.matchSkill,
		SaveMemory: o.saveMemory,
		Scheduler:  o.deps.Scheduler,
	}

	result, err := loop.Run(ctx, models.Message{Role: models.RoleUser, Text: prompt}, conversationID, opts)
	if err != nil {
		return "", err
	}
	return extractMessageText(*result), nil
}

// StartHeartbeat registers a recurring scheduled task whose action is the
// heartbeat sentinel and wires the scheduler's fire callback to run a
// check-in turn whenever that sentinel fires. conversationID is the
// dedicated session the check-in runs against.
func (o *Orchestrator) StartHeartbeat(conversationID string) error {
	if !o.deps.Heartbeat.Enabled {
		return nil
	}
	cronExpr := fmt.Sprintf("*/%d * * * *", max(1, int(o.deps.Heartbeat.Interval.Minutes())))
	if _, err := o.deps.Scheduler.Create("heartbeat", cronExpr, heartbeatAction, true, false); err != nil {
		return fmt.Errorf("orchestrator: register heartbeat task: %w", err)
	}

	o.deps.Scheduler.SetOnTaskFire(func(task models.ScheduledTask) {
		if task.Action != heartbeatAction {
			return
		}
		o.runHeartbeatCheckin(conversationID)
	})
	return nil
}

func (o *Orchestrator) runHeartbeatCheckin(conversationID string) {
	ctx := context.Background()
	prompt := ResolvePrompt(o.deps.Heartbeat.Prompt)

	response, err := o.runSubTurn(ctx, conversationID, prompt)
	if err != nil {
		o.logger.Warn("heartbeat check-in failed", "conversation_id", conversationID, "error", err)
		o.heartbeat.MarkMissed(conversationID)
		return
	}

	stripped := StripHeartbeatToken(response, o.deps.Heartbeat.MaxAckChars)
	o.heartbeat.Record(conversationID, response)
	if stripped.ShouldSkip {
		return
	}
	o.logger.Info("heartbeat surfaced a substantive response", "conversation_id", conversationID, "text", stripped.Text)
}

// sweepEphemeralScripts removes transient per-turn script files (e.g. the
// scratch .py files a code-execution tool might drop) from the shared temp
// root. Failures are logged and swallowed; this is best-effort hygiene,
// never load-bearing for correctness.
func sweepEphemeralScripts(tempRoot string) {
	matches, err := filepath.Glob(filepath.Join(tempRoot, "*", "*.py"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
