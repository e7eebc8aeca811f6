// Package store persists conversation turns, sessions, traces, and memory
// entries in a local SQLite database (scheduled tasks are not stored here;
// the scheduler keeps them in memory only), using a
// straightforward schema-plus-prepared-statements layout adapted to
// SQLite's driver and placeholder syntax.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentcore/engine/pkg/models"
)

// Store is the persistence seam used by the context manager, memory
// extractor, agent loop, and orchestrator.
type Store interface {
	// Turns
	CreateTurn(ctx context.Context, turn *models.Turn) error
	ListTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error)

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	DeleteSession(ctx context.Context, id string) error

	// Traces
	SaveTrace(ctx context.Context, t *models.Trace) error
	GetTrace(ctx context.Context, id string) (*models.Trace, error)
	ListTraces(ctx context.Context, conversationID string, limit int) ([]models.Trace, error)

	// Memory
	UpsertMemory(ctx context.Context, m *models.MemoryEntry) error
	GetMemory(ctx context.Context, id string) (*models.MemoryEntry, error)
	DeleteMemory(ctx context.Context, id string) error
	ListMemories(ctx context.Context, conversationID string) ([]models.MemoryEntry, error)
	SearchMemory(ctx context.Context, opts models.MemorySearchOptions) ([]models.MemorySearchResult, error)
	FindSimilarMemory(ctx context.Context, conversationID string, memType models.MemoryType, embedding []float32, threshold float64) (*models.MemoryEntry, error)

	Close() error
}

// SQLiteStore is the Store implementation backed by mattn/go-sqlite3.
type SQLiteStore struct {
	db      *sql.DB
	embedFn EmbedFunc

	stmtCreateTurn    *sql.Stmt
	stmtListTurns     *sql.Stmt
	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtListSessions  *sql.Stmt
	stmtSaveTrace     *sql.Stmt
	stmtGetTrace      *sql.Stmt
	stmtListTraces    *sql.Stmt
	stmtUpsertMemory  *sql.Stmt
	stmtGetMemory     *sql.Stmt
	stmtDeleteMemory  *sql.Stmt
	stmtListMemories  *sql.Stmt
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	tool_results TEXT,
	model TEXT,
	tokens_in INTEGER,
	tokens_out INTEGER,
	duration_ms INTEGER,
	tool_call_count INTEGER,
	trace_id TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	title TEXT,
	created_at DATETIME NOT NULL,
	last_active_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS traces (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_input TEXT,
	system_prompt TEXT,
	skill_match TEXT,
	steps TEXT,
	response TEXT,
	model TEXT,
	tokens_in INTEGER,
	tokens_out INTEGER,
	duration_ms INTEGER,
	error TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_conversation ON traces(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS memory_entries (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	importance REAL NOT NULL,
	embedding BLOB,
	created_at DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_conversation ON memory_entries(conversation_id);
`

// NewSQLiteStore opens (creating if absent) the database at path, applies
// the schema, and prepares every statement used by the Store interface.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers; avoid SQLITE_BUSY churn.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtCreateTurn, err = s.db.Prepare(`
		INSERT INTO turns (id, conversation_id, role, content, tool_calls, tool_results, model, tokens_in, tokens_out, duration_ms, tool_call_count, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.stmtListTurns, err = s.db.Prepare(`
		SELECT * FROM (
			SELECT id, conversation_id, role, content, tool_calls, tool_results, model, tokens_in, tokens_out, duration_ms, tool_call_count, trace_id, created_at
			FROM turns WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC
	`)
	if err != nil {
		return err
	}

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, conversation_id, title, created_at, last_active_at) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, conversation_id, title, created_at, last_active_at FROM sessions WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE sessions SET title = ?, last_active_at = ? WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE id = ?`)
	if err != nil {
		return err
	}

	s.stmtListSessions, err = s.db.Prepare(`
		SELECT id, conversation_id, title, created_at, last_active_at FROM sessions ORDER BY last_active_at DESC LIMIT ?
	`)
	if err != nil {
		return err
	}

	s.stmtSaveTrace, err = s.db.Prepare(`
		INSERT INTO traces (id, conversation_id, user_input, system_prompt, skill_match, steps, response, model, tokens_in, tokens_out, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.stmtGetTrace, err = s.db.Prepare(`
		SELECT id, conversation_id, user_input, system_prompt, skill_match, steps, response, model, tokens_in, tokens_out, duration_ms, error, created_at
		FROM traces WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.stmtListTraces, err = s.db.Prepare(`
		SELECT id, conversation_id, user_input, system_prompt, skill_match, steps, response, model, tokens_in, tokens_out, duration_ms, error, created_at
		FROM traces WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?
	`)
	if err != nil {
		return err
	}

	s.stmtUpsertMemory, err = s.db.Prepare(`
		INSERT INTO memory_entries (id, conversation_id, type, content, importance, embedding, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, content = excluded.content, importance = excluded.importance,
			embedding = excluded.embedding, last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count
	`)
	if err != nil {
		return err
	}

	s.stmtGetMemory, err = s.db.Prepare(`
		SELECT id, conversation_id, type, content, importance, embedding, created_at, last_accessed_at, access_count
		FROM memory_entries WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.stmtDeleteMemory, err = s.db.Prepare(`DELETE FROM memory_entries WHERE id = ?`)
	if err != nil {
		return err
	}

	s.stmtListMemories, err = s.db.Prepare(`
		SELECT id, conversation_id, type, content, importance, embedding, created_at, last_accessed_at, access_count
		FROM memory_entries WHERE conversation_id = ? ORDER BY created_at DESC
	`)
	if err != nil {
		return err
	}

	return nil
}

// Close releases every prepared statement and the underlying connection.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.stmtCreateTurn, s.stmtListTurns, s.stmtCreateSession, s.stmtGetSession,
		s.stmtUpdateSession, s.stmtDeleteSession, s.stmtListSessions, s.stmtSaveTrace,
		s.stmtGetTrace, s.stmtListTraces, s.stmtUpsertMemory, s.stmtGetMemory,
		s.stmtDeleteMemory, s.stmtListMemories,
	}
	var errs []error
	for _, st := range stmts {
		if st == nil {
			continue
		}
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("store: close: %v", errs)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// SetEmbedder wires a real embedding provider (e.g. provider.Provider.Embed)
// into the store's memory ranking and importance-update dedup path. Without
// one, the store falls back to the deterministic hashed bag-of-words
// embedding in embedding.go.
func (s *SQLiteStore) SetEmbedder(fn EmbedFunc) {
	s.embedFn = fn
}

func (s *SQLiteStore) embed(texts []string) ([][]float32, error) {
	if s.embedFn != nil {
		vecs, err := s.embedFn(texts)
		if err == nil {
			return vecs, nil
		}
	}
	return fallbackEmbed(texts), nil
}
