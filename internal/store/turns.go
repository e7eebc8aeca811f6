package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentcore/engine/pkg/models"
)

func (s *SQLiteStore) CreateTurn(ctx context.Context, t *models.Turn) error {
	toolCalls, err := json.Marshal(t.ToolCalls)
	if err != nil {
		return fmt.Errorf("store: marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(t.ToolResults)
	if err != nil {
		return fmt.Errorf("store: marshal tool results: %w", err)
	}

	_, err = s.stmtCreateTurn.ExecContext(ctx,
		t.ID, t.ConversationID, string(t.Role), t.Content,
		string(toolCalls), string(toolResults), t.Model,
		t.TokensIn, t.TokensOut, t.DurationMs, t.ToolCallCount, t.TraceID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.stmtListTurns.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list turns: %w", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var t models.Turn
		var role string
		var toolCalls, toolResults sql.NullString
		var model, traceID sql.NullString
		if err := rows.Scan(
			&t.ID, &t.ConversationID, &role, &t.Content,
			&toolCalls, &toolResults, &model,
			&t.TokensIn, &t.TokensOut, &t.DurationMs, &t.ToolCallCount, &traceID, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		t.Role = models.Role(role)
		t.Model = model.String
		t.TraceID = traceID.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" {
			if err := json.Unmarshal([]byte(toolResults.String), &t.ToolResults); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool results: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
