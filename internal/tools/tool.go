// Package tools implements the tool registry and sequential dispatcher the
// agent loop calls into. Tools are self-describing: name,
// description, JSON-schema parameters, and an Execute method — the same
// shape used by every tool in this registry.
package tools

import (
	"context"
	"encoding/json"

	"github.com/agentcore/engine/internal/scheduler"
	"github.com/agentcore/engine/pkg/models"
)

// Tool is a single callable capability exposed to the LLM.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage, execCtx ExecutionContext) (*models.ToolResult, error)
}

// ExecutionContext is the capability record passed by value into every
// tool call. It carries the host callbacks a tool may
// need without giving the tool a back-reference to the agent loop itself.
type ExecutionContext struct {
	ConversationID string
	WorkDir        string
	OriginalUserText string

	PromptUser func(ctx context.Context, question string) (string, error)
	NotifyUser func(ctx context.Context, message string) error
	SendFile   func(ctx context.Context, path string) error

	SaveMemory func(ctx context.Context, entry models.MemoryEntry) error

	Scheduler *scheduler.Scheduler

	// SkillRegistry and Planner are declared as minimal function-shaped
	// seams rather than concrete package types to avoid an import cycle
	// (tools -> skills/planner -> agent -> tools); the orchestrator wires
	// concrete closures in.
	MatchSkill   func(ctx context.Context, text string) (*models.Skill, error)
	CreatePlan   func(ctx context.Context, goal string) (*models.Plan, error)
	DelegateTask func(ctx context.Context, prompt string) (string, error)

	// PreSelectedSkillName carries the id of a skill chosen before the loop
	// started (the loop copies RunOptions.PreSelectedSkillID into it). The
	// registry's use_skill rerouting does not read it.
	PreSelectedSkillName string

	// SentFiles accumulates paths sent during this turn so the loop can
	// append the "files sent" markdown note to the final response.
	SentFiles *[]string
}
