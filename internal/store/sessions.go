package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentcore/engine/pkg/models"
)

// ErrNotFound is returned by Get-style lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.stmtCreateSession.ExecContext(ctx, sess.ID, sess.ConversationID, sess.Title, sess.CreatedAt, sess.LastActiveAt)
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.stmtGetSession.QueryRowContext(ctx, id)
	var sess models.Session
	if err := row.Scan(&sess.ID, &sess.ConversationID, &sess.Title, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtListSessions.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.ConversationID, &sess.Title, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	res, err := s.stmtUpdateSession.ExecContext(ctx, sess.Title, sess.LastActiveAt, sess.ID)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}
