package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agentcore/engine/pkg/models"
)

// ErrEmbeddingDimensionMismatch is returned when a memory entry's embedding
// dimension does not match the store's existing vectors — the hybrid
// ranking's cosine similarity is meaningless across mismatched dimensions,
// so writes are rejected rather than silently truncated or padded.
var ErrEmbeddingDimensionMismatch = errors.New("store: embedding dimension mismatch")

// Hybrid ranking weights: score = wSemantic*semantic + wRecency*recency + wImportance*importance.
const (
	weightSemantic  = 0.5
	weightRecency   = 0.2
	weightImportance = 0.3

	// recencyHalfLife is the age at which the recency term decays to 0.5.
	recencyHalfLife = 72 * time.Hour
)

func (s *SQLiteStore) UpsertMemory(ctx context.Context, m *models.MemoryEntry) error {
	if len(m.Embedding) == 0 {
		vecs, err := s.embed([]string{m.Content})
		if err != nil {
			return fmt.Errorf("store: embed memory: %w", err)
		}
		m.Embedding = vecs[0]
	}
	if existing, err := s.anyMemoryDimension(ctx); err == nil && existing > 0 && existing != len(m.Embedding) {
		return ErrEmbeddingDimensionMismatch
	}

	m.Importance = models.ClampImportance(m.Importance)
	_, err := s.stmtUpsertMemory.ExecContext(ctx,
		m.ID, m.ConversationID, string(m.Type), m.Content, m.Importance,
		encodeEmbedding(m.Embedding), m.CreatedAt, m.AccessedAt, m.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("store: upsert memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) anyMemoryDimension(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT embedding FROM memory_entries LIMIT 1`)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return len(decodeEmbedding(blob)), nil
}

func scanMemory(row interface{ Scan(dest ...any) error }) (*models.MemoryEntry, error) {
	var m models.MemoryEntry
	var typ string
	var embedding []byte
	if err := row.Scan(&m.ID, &m.ConversationID, &typ, &m.Content, &m.Importance, &embedding, &m.CreatedAt, &m.AccessedAt, &m.AccessCount); err != nil {
		return nil, err
	}
	m.Type = models.MemoryType(typ)
	m.Embedding = decodeEmbedding(embedding)
	return &m, nil
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*models.MemoryEntry, error) {
	m, err := scanMemory(s.stmtGetMemory.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get memory: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.stmtDeleteMemory.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("store: delete memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMemories(ctx context.Context, conversationID string) ([]models.MemoryEntry, error) {
	rows, err := s.stmtListMemories.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list memories: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SearchMemory ranks a conversation's memory entries by the hybrid score
// weighted sum of semantic cosine similarity to the query,
// exponential recency decay since last access, and stored importance.
func (s *SQLiteStore) SearchMemory(ctx context.Context, opts models.MemorySearchOptions) ([]models.MemorySearchResult, error) {
	entries, err := s.ListMemories(ctx, opts.ConversationID)
	if err != nil {
		return nil, err
	}

	queryVec := opts.QueryEmbedding
	if len(queryVec) == 0 && opts.Query != "" {
		vecs, err := s.embed([]string{opts.Query})
		if err != nil {
			return nil, fmt.Errorf("store: embed query: %w", err)
		}
		queryVec = vecs[0]
	}

	now := time.Now()
	results := make([]models.MemorySearchResult, 0, len(entries))
	for _, e := range entries {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if e.Importance < opts.MinImportance {
			continue
		}
		score := hybridScore(e, queryVec, now)
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		results = append(results, models.MemorySearchResult{Entry: e, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
		}
		return results[i].Score > results[j].Score
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func hybridScore(e models.MemoryEntry, queryVec []float32, now time.Time) float64 {
	semantic := 0.0
	if len(queryVec) > 0 {
		semantic = cosine(queryVec, e.Embedding)
	}
	age := now.Sub(e.AccessedAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-math.Ln2 * age.Hours() / recencyHalfLife.Hours())
	return weightSemantic*semantic + weightRecency*recency + weightImportance*e.Importance
}

// FindSimilarMemory returns the highest-scoring existing entry of the same
// type above threshold, used by the memory extractor to dedup near-duplicate
// facts before deciding whether to insert a new row or bump an existing
// one's importance. Entries of a different type never match, even if their
// embedding is nearly identical.
func (s *SQLiteStore) FindSimilarMemory(ctx context.Context, conversationID string, memType models.MemoryType, embedding []float32, threshold float64) (*models.MemoryEntry, error) {
	entries, err := s.ListMemories(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var best *models.MemoryEntry
	bestScore := threshold
	for i := range entries {
		if entries[i].Type != memType {
			continue
		}
		score := cosine(embedding, entries[i].Embedding)
		if score >= bestScore {
			bestScore = score
			best = &entries[i]
		}
	}
	return best, nil
}
