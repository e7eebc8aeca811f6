// Package contextmanager builds the message list and system prompt handed
// to the LLM provider on each agent loop iteration, combining compressed
// history, relevant long-term memory, and the active skill's instructions,
// adapted from a char-budget sliding window to a turn-count
// history/compression split plus dynamic-prefix caching.
package contextmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/skills"
	"github.com/agentcore/engine/internal/store"
	"github.com/agentcore/engine/pkg/models"
)

const (
	defaultHistoryLimit        = 50
	defaultCompressAfter       = 20
	defaultSummaryMaxChars     = 500
	defaultTruncateFallback    = 2000
	defaultMemoryLimit         = 5
	defaultMemoryCharCap       = 2000
	summarizeTemperature       = 0.1
)

// BuildOptions parameterizes a single BuildContext call.
type BuildOptions struct {
	// PreSelectedSkillID, when non-empty, is prepended as the active skill
	// without running the matcher again.
	PreSelectedSkillID string

	// ReuseContext reuses a cached dynamic prefix for this conversation
	// instead of re-querying memory and rebuilding the skill catalog.
	ReuseContext bool

	// WorkDir substitutes the {WORKDIR} placeholder in an active skill's
	// instructions.
	WorkDir string
}

// Built is the result of BuildContext: the static system prompt plus the
// assembled message list, and the skill match (if any) that was active.
type Built struct {
	SystemPrompt string
	Messages     []models.Message
	SkillMatch   *models.SkillMatch
}

type cachedPrefix struct {
	messages   []models.Message
	skillMatch *models.SkillMatch
}

// Manager builds per-turn context. The system prompt is fixed at
// construction so the prompt-cache-sensitive prefix never changes across
// iterations of the same loop; everything dynamic rides in the message
// list instead.
type Manager struct {
	store        store.Store
	skills       *skills.Registry
	provider     provider.Provider
	systemPrompt string

	historyLimit     int
	compressAfter    int
	summaryMaxChars  int
	truncateFallback int
	memoryLimit      int
	memoryCharCap    int

	mu            sync.Mutex
	summaryCache  map[string]string
	prefixCache   map[string]cachedPrefix
}

// New creates a context manager. provider may be nil; summarization then
// always falls back to raw-transcript truncation.
func New(st store.Store, skillRegistry *skills.Registry, llm provider.Provider, systemPrompt string) *Manager {
	return &Manager{
		store:            st,
		skills:           skillRegistry,
		provider:         llm,
		systemPrompt:     systemPrompt,
		historyLimit:     defaultHistoryLimit,
		compressAfter:    defaultCompressAfter,
		summaryMaxChars:  defaultSummaryMaxChars,
		truncateFallback: defaultTruncateFallback,
		memoryLimit:      defaultMemoryLimit,
		memoryCharCap:    defaultMemoryCharCap,
		summaryCache:     make(map[string]string),
		prefixCache:      make(map[string]cachedPrefix),
	}
}

// BuildContext assembles the system prompt and message list for one LLM
// call: a dynamic prefix of relevant memories and the active skill, followed
// by compressed history. The caller's current turn is expected to already be
// part of history (it was persisted before the first BuildContext call of a
// run), so it is not appended a second time; hints, if non-empty, are
// instead appended in place to the trailing message, whatever its role
// (after a tool round that is the tool-result message).
func (m *Manager) BuildContext(ctx context.Context, convID string, input models.Message, hints string, opts BuildOptions) (*Built, error) {
	history, err := m.buildHistory(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("contextmanager: build history: %w", err)
	}

	prefix, skillMatch := m.buildDynamicPrefix(ctx, convID, input, opts)

	messages := make([]models.Message, 0, len(prefix)+len(history))
	messages = append(messages, prefix...)
	messages = append(messages, history...)
	messages = appendHints(messages, hints)

	return &Built{SystemPrompt: m.systemPrompt, Messages: messages, SkillMatch: skillMatch}, nil
}

// appendHints appends hints to the last message's trailing text, preserving
// a multimodal message's blocks. If messages is empty, hints become a new
// user message (only possible on a fresh conversation whose persisted turn
// hasn't landed in the store yet).
func appendHints(messages []models.Message, hints string) []models.Message {
	if hints == "" {
		return messages
	}
	if len(messages) == 0 {
		return []models.Message{{Role: models.RoleUser, Text: strings.TrimSpace(hints)}}
	}
	last := messages[len(messages)-1]
	if !last.HasBlocks() {
		last.Text += hints
	} else {
		blocks := make([]models.ContentBlock, len(last.Blocks))
		copy(blocks, last.Blocks)
		blocks = append(blocks, models.ContentBlock{Type: models.BlockText, Text: strings.TrimSpace(hints)})
		last.Blocks = blocks
	}
	messages[len(messages)-1] = last
	return messages
}

// buildHistory fetches the last historyLimit turns and compresses
// everything older than compressAfter into a cached summary pair.
func (m *Manager) buildHistory(ctx context.Context, convID string) ([]models.Message, error) {
	turns, err := m.store.ListTurns(ctx, convID, m.historyLimit)
	if err != nil {
		return nil, err
	}
	if len(turns) <= m.compressAfter {
		return TurnsToMessages(turns), nil
	}

	cut := len(turns) - m.compressAfter
	oldTurns, recentTurns := turns[:cut], turns[cut:]

	summaryText := m.summarizeCached(ctx, convID, oldTurns)

	out := make([]models.Message, 0, 2+len(recentTurns))
	out = append(out,
		models.Message{Role: models.RoleUser, Text: "here is earlier context: " + summaryText},
		models.Message{Role: models.RoleAssistant, Text: "Understood."},
	)
	out = append(out, TurnsToMessages(recentTurns)...)
	return out, nil
}

// summarizeCached returns a summary of oldTurns, from cache when a prior
// call already summarized exactly this many older turns for this
// conversation, else generating (and caching) a fresh one.
func (m *Manager) summarizeCached(ctx context.Context, convID string, oldTurns []models.Turn) string {
	key := fmt.Sprintf("%s:%d", convID, len(oldTurns))

	m.mu.Lock()
	if cached, ok := m.summaryCache[key]; ok {
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()

	summary := m.summarize(ctx, oldTurns)

	m.mu.Lock()
	m.summaryCache[key] = summary
	m.mu.Unlock()
	return summary
}

func (m *Manager) summarize(ctx context.Context, turns []models.Turn) string {
	if m.provider != nil {
		if text, err := m.summarizeViaLLM(ctx, turns); err == nil {
			return text
		}
	}
	return truncateTranscript(turns, m.truncateFallback)
}

func (m *Manager) summarizeViaLLM(ctx context.Context, turns []models.Turn) (string, error) {
	req := provider.Request{
		SystemPrompt: "Summarize the conversation below in 3-5 bullet points, under " +
			fmt.Sprintf("%d", m.summaryMaxChars) + " characters total. Focus on topics, decisions, and pending tasks.",
		Messages:    []models.Message{{Role: models.RoleUser, Text: transcriptText(turns)}},
		Temperature: summarizeTemperature,
	}
	chunk, err := m.provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(chunk.Text)
	if len(text) > m.summaryMaxChars {
		text = text[:m.summaryMaxChars]
	}
	return text, nil
}

func transcriptText(turns []models.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", t.Role, t.Content))
	}
	return sb.String()
}

func truncateTranscript(turns []models.Turn, max int) string {
	text := transcriptText(turns)
	if len(text) > max {
		return text[:max]
	}
	return text
}

// buildDynamicPrefix returns the leading messages carrying relevant
// memories and the active skill's instructions, reusing a cached prefix
// when opts.ReuseContext is set. Any failure in a sub-step (memory search,
// skill lookup) is swallowed and that section is simply omitted.
func (m *Manager) buildDynamicPrefix(ctx context.Context, convID string, input models.Message, opts BuildOptions) ([]models.Message, *models.SkillMatch) {
	if opts.ReuseContext {
		m.mu.Lock()
		cached, ok := m.prefixCache[convID]
		m.mu.Unlock()
		if ok {
			return cached.messages, cached.skillMatch
		}
	}

	var sections []string

	if memText := m.memorySection(ctx, convID, input); memText != "" {
		sections = append(sections, memText)
	}

	skillText, skillMatch := m.skillSection(opts)
	if skillText != "" {
		sections = append(sections, skillText)
	}

	var prefix []models.Message
	if len(sections) > 0 {
		prefix = []models.Message{
			{Role: models.RoleUser, Text: strings.Join(sections, "\n\n")},
			{Role: models.RoleAssistant, Text: "OK."},
		}
	}

	m.mu.Lock()
	m.prefixCache[convID] = cachedPrefix{messages: prefix, skillMatch: skillMatch}
	m.mu.Unlock()

	return prefix, skillMatch
}

func (m *Manager) memorySection(ctx context.Context, convID string, input models.Message) string {
	query := extractText(input)
	if query == "" {
		return ""
	}
	results, err := m.store.SearchMemory(ctx, models.MemorySearchOptions{
		ConversationID: convID,
		Query:          query,
		Limit:          m.memoryLimit,
	})
	if err != nil || len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, r := range results {
		line := "- " + r.Entry.Content + "\n"
		if sb.Len()+len(line) > m.memoryCharCap {
			break
		}
		sb.WriteString(line)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Manager) skillSection(opts BuildOptions) (string, *models.SkillMatch) {
	if m.skills == nil {
		return "", nil
	}

	var sb strings.Builder
	var match *models.SkillMatch

	if opts.PreSelectedSkillID != "" {
		if skill, ok := m.skills.Get(opts.PreSelectedSkillID); ok {
			instructions := skills.RenderInstructions(skill.Instructions, opts.WorkDir)
			sb.WriteString("Active Skill: " + skill.Name + "\n" + instructions + "\n\n")
			match = &models.SkillMatch{Skill: *skill, Confidence: 1.0}
		}
	}

	all := m.skills.List()
	var names []string
	for _, s := range all {
		if !s.Enabled {
			continue
		}
		names = append(names, fmt.Sprintf("%s(%s)", s.Name, shortDescription(s.Description)))
	}
	if len(names) > 0 {
		sb.WriteString("Available skills: " + strings.Join(names, ", "))
	}

	return strings.TrimSpace(sb.String()), match
}

func shortDescription(desc string) string {
	const maxLen = 60
	desc = strings.TrimSpace(desc)
	if len(desc) > maxLen {
		return desc[:maxLen] + "..."
	}
	return desc
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

// TurnsToMessages reconstructs the typed-block Message form of a turn
// history: assistant turns with stored tool calls become Text+ToolUse
// blocks, tool turns deserialize into ToolResult blocks, and user turns
// are parsed as blocks only when their content is a JSON array of typed
// blocks (otherwise treated as plain text).
func TurnsToMessages(turns []models.Turn) []models.Message {
	out := make([]models.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case models.RoleAssistant:
			out = append(out, assistantTurnToMessage(t))
		case models.RoleTool:
			out = append(out, toolTurnToMessage(t))
		case models.RoleUser:
			out = append(out, userTurnToMessage(t))
		default:
			out = append(out, models.Message{Role: t.Role, Text: t.Content})
		}
	}
	return out
}

func assistantTurnToMessage(t models.Turn) models.Message {
	if len(t.ToolCalls) == 0 {
		return models.Message{Role: models.RoleAssistant, Text: t.Content}
	}
	blocks := make([]models.ContentBlock, 0, len(t.ToolCalls)+1)
	if t.Content != "" {
		blocks = append(blocks, models.ContentBlock{Type: models.BlockText, Text: t.Content})
	}
	for _, tc := range t.ToolCalls {
		blocks = append(blocks, models.ContentBlock{
			Type:      models.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Name,
			ToolInput: tc.Input,
		})
	}
	return models.Message{Role: models.RoleAssistant, Blocks: blocks}
}

func toolTurnToMessage(t models.Turn) models.Message {
	blocks := make([]models.ContentBlock, 0, len(t.ToolResults))
	for _, tr := range t.ToolResults {
		blocks = append(blocks, models.ContentBlock{
			Type:            models.BlockToolResult,
			ToolResultForID: tr.ToolUseID,
			ToolResultText:  tr.Content,
			ToolResultError: tr.IsError,
		})
	}
	return models.Message{Role: models.RoleTool, Blocks: blocks}
}

func userTurnToMessage(t models.Turn) models.Message {
	trimmed := strings.TrimSpace(t.Content)
	if strings.HasPrefix(trimmed, "[") {
		var blocks []models.ContentBlock
		if err := json.Unmarshal([]byte(trimmed), &blocks); err == nil {
			return models.Message{Role: models.RoleUser, Blocks: blocks}
		}
	}
	return models.Message{Role: models.RoleUser, Text: t.Content}
}

// InvalidateConversation drops any cached summary/prefix for a
// conversation; the orchestrator's CloseSession calls it when a session is
// closed.
func (m *Manager) InvalidateConversation(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefixCache, convID)
	for key := range m.summaryCache {
		if strings.HasPrefix(key, convID+":") {
			delete(m.summaryCache, key)
		}
	}
}
