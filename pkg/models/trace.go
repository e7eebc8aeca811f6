package models

import (
	"encoding/json"
	"time"
)

// TraceStepKind discriminates the variant carried by a TraceStep.
type TraceStepKind string

const (
	StepLLMCall    TraceStepKind = "llm_call"
	StepToolCall   TraceStepKind = "tool_call"
	StepToolResult TraceStepKind = "tool_result"
)

// TraceStep is one entry in a Trace's ordered step log. Only the fields
// relevant to Kind are populated.
type TraceStep struct {
	Kind TraceStepKind `json:"kind"`

	// LLMCall fields.
	Iteration int    `json:"iteration,omitempty"`
	TokensIn  int    `json:"tokens_in,omitempty"`
	TokensOut int    `json:"tokens_out,omitempty"`
	Text      string `json:"text,omitempty"`

	// ToolCall fields.
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult fields.
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	At time.Time `json:"at"`
}

// Trace is the structured log of one turn: the user input, the chosen
// system prompt, the matched skill (if any), every LLM/tool step in event
// order, and the final response with aggregate usage. Persisted exactly
// once at end-of-turn.
type Trace struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	UserInput      string      `json:"user_input"`
	SystemPrompt   string      `json:"system_prompt,omitempty"`
	SkillMatch     string      `json:"skill_match,omitempty"`
	Steps          []TraceStep `json:"steps"`
	Response       string      `json:"response,omitempty"`
	Model          string      `json:"model,omitempty"`
	TokensIn       int         `json:"tokens_in"`
	TokensOut      int         `json:"tokens_out"`
	DurationMs     int64       `json:"duration_ms"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AppendStep appends a step to the trace in event order.
func (t *Trace) AppendStep(step TraceStep) {
	if step.At.IsZero() {
		step.At = time.Now()
	}
	t.Steps = append(t.Steps, step)
}
