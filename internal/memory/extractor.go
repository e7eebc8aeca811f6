// Package memory runs the background LLM extraction pass that distills
// recent conversation turns into long-term memory entries, grounded on the
// fenced-JSON-from-LLM-output convention applied to a strict extraction
// prompt in the "temperature 0.1, JSON-only" style used elsewhere in this
// codebase for structured LLM output.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/store"
	"github.com/agentcore/engine/pkg/models"
)

const (
	historyWindow      = 10
	extractEveryNTurns = 3
	similarityThreshold = 0.75
	extractTemperature = 0.1
)

const extractionSystemPrompt = `You extract durable long-term memories from a conversation transcript.

Return a JSON array of objects: [{"type": "fact"|"preference"|"entity"|"episodic", "content": "...", "importance": 0.0-1.0}].

Do NOT extract:
- one-off actions or requests that won't matter later
- descriptions of the assistant's own behavior
- tool execution details or raw command output

Only extract information worth remembering across future conversations. Return [] if nothing qualifies. Output JSON only, no prose, no markdown fences.`

// Extractor runs periodically after a user turn, asking the LLM to
// distill the recent transcript into memory entries and deduping against
// existing ones before writing.
type Extractor struct {
	store    store.Store
	provider provider.Provider
	logger   *slog.Logger
}

// New creates a memory extractor. provider may be nil, in which case Run
// is a no-op (extraction requires an LLM).
func New(st store.Store, llm provider.Provider) *Extractor {
	return &Extractor{store: st, provider: llm, logger: slog.Default().With("component", "memory")}
}

// ShouldRun reports whether turnCount warrants an extraction pass: the
// first turn, then every extractEveryNTurns turns thereafter.
func ShouldRun(turnCount int) bool {
	return turnCount == 1 || turnCount%extractEveryNTurns == 0
}

// Run fetches the recent transcript, asks the LLM to extract memories, and
// upserts each one (deduping against similar existing entries). All
// failures are logged and swallowed — extraction never surfaces an error
// to the caller's user-facing turn.
func (e *Extractor) Run(ctx context.Context, conversationID string) {
	if e.provider == nil {
		return
	}

	turns, err := e.store.ListTurns(ctx, conversationID, historyWindow)
	if err != nil {
		e.logger.Warn("memory extraction: list turns failed", "conversation_id", conversationID, "error", err)
		return
	}
	if len(turns) == 0 {
		return
	}

	extracted, err := e.extract(ctx, turns)
	if err != nil {
		e.logger.Warn("memory extraction failed", "conversation_id", conversationID, "error", err)
		return
	}

	newestTurnID := turns[len(turns)-1].ID
	for _, item := range extracted {
		if err := e.upsert(ctx, conversationID, newestTurnID, item); err != nil {
			e.logger.Warn("memory upsert failed", "conversation_id", conversationID, "error", err)
		}
	}
}

type extractedMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

func (e *Extractor) extract(ctx context.Context, turns []models.Turn) ([]extractedMemory, error) {
	req := provider.Request{
		SystemPrompt: extractionSystemPrompt,
		Messages:     []models.Message{{Role: models.RoleUser, Text: formatTranscript(turns)}},
		Temperature:  extractTemperature,
	}
	chunk, err := e.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("memory: extraction call: %w", err)
	}

	var items []extractedMemory
	if err := json.Unmarshal([]byte(stripFence(chunk.Text)), &items); err != nil {
		return nil, fmt.Errorf("memory: parse extraction output: %w", err)
	}

	valid := make([]extractedMemory, 0, len(items))
	for _, it := range items {
		if !validMemoryType(it.Type) || strings.TrimSpace(it.Content) == "" {
			continue
		}
		it.Importance = models.ClampImportance(it.Importance)
		valid = append(valid, it)
	}
	return valid, nil
}

func (e *Extractor) upsert(ctx context.Context, conversationID, sourceTurnID string, item extractedMemory) error {
	vecs, err := e.provider.Embed(ctx, []string{item.Content})
	var embedding []float32
	if err == nil && len(vecs) > 0 {
		embedding = vecs[0]
	}

	if existing, err := e.store.FindSimilarMemory(ctx, conversationID, models.MemoryType(item.Type), embedding, similarityThreshold); err == nil && existing != nil {
		if item.Importance > existing.Importance {
			existing.Importance = item.Importance
			return e.store.UpsertMemory(ctx, existing)
		}
		return nil
	}

	now := time.Now()
	entry := &models.MemoryEntry{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Type:           models.MemoryType(item.Type),
		Content:        item.Content,
		Importance:     item.Importance,
		Embedding:      embedding,
		CreatedAt:      now,
		AccessedAt:     now,
		SourceTurnID:   sourceTurnID,
	}
	return e.store.UpsertMemory(ctx, entry)
}

func validMemoryType(t string) bool {
	switch models.MemoryType(t) {
	case models.MemoryFact, models.MemoryPreference, models.MemoryEntity, models.MemoryEpisodic:
		return true
	default:
		return false
	}
}

func formatTranscript(turns []models.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", t.Role, t.Content))
	}
	return sb.String()
}

// stripFence removes a leading/trailing ```-delimited code fence (with an
// optional language tag on the opening line), matching the same fence
// convention the LLM is asked to avoid but sometimes emits anyway.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx != -1 {
		text = text[idx+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
