package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentcore/engine/pkg/models"
)

func (s *SQLiteStore) SaveTrace(ctx context.Context, t *models.Trace) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("store: marshal trace steps: %w", err)
	}
	_, err = s.stmtSaveTrace.ExecContext(ctx,
		t.ID, t.ConversationID, t.UserInput, t.SystemPrompt, t.SkillMatch, string(steps),
		t.Response, t.Model, t.TokensIn, t.TokensOut, t.DurationMs, t.Error, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save trace: %w", err)
	}
	return nil
}

func scanTrace(row interface {
	Scan(dest ...any) error
}) (*models.Trace, error) {
	var t models.Trace
	var steps sql.NullString
	var systemPrompt, skillMatch, response, model, traceErr sql.NullString
	if err := row.Scan(
		&t.ID, &t.ConversationID, &t.UserInput, &systemPrompt, &skillMatch, &steps,
		&response, &model, &t.TokensIn, &t.TokensOut, &t.DurationMs, &traceErr, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.SystemPrompt = systemPrompt.String
	t.SkillMatch = skillMatch.String
	t.Response = response.String
	t.Model = model.String
	t.Error = traceErr.String
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &t.Steps); err != nil {
			return nil, fmt.Errorf("store: unmarshal trace steps: %w", err)
		}
	}
	return &t, nil
}

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	row := s.stmtGetTrace.QueryRowContext(ctx, id)
	t, err := scanTrace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get trace: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTraces(ctx context.Context, conversationID string, limit int) ([]models.Trace, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtListTraces.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list traces: %w", err)
	}
	defer rows.Close()

	var out []models.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan trace: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
