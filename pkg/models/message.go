// Package models defines the shared data types passed between the agent
// loop, context manager, memory store, and tool registry.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType identifies the kind of content carried by a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ContentBlock is one typed fragment of a (possibly multimodal) message.
// Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text block.
	Text string `json:"text,omitempty"`

	// ToolUse block.
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult block.
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolResultError bool   `json:"tool_result_error,omitempty"`

	// Image block.
	ImageBase64    string `json:"image_base64,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`
}

// Message is the unified in-memory representation of one turn's content as
// seen by an LLM provider. Content is either Text (plain string turns) or a
// list of typed Blocks (multimodal / tool-bearing turns).
type Message struct {
	Role    Role           `json:"role"`
	Text    string         `json:"text,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// HasBlocks reports whether the message carries structured content blocks
// rather than plain text.
func (m Message) HasBlocks() bool {
	return len(m.Blocks) > 0
}

// ToolCall is an LLM's request to invoke a named tool with JSON input.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolUseID   string         `json:"tool_use_id"`
	Content     string         `json:"content"`
	IsError     bool           `json:"is_error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	AutoComplete bool          `json:"auto_complete,omitempty"`
}

// Turn is the persisted form of a message: role, textual content, optional
// serialized tool-call/tool-result lists, and usage accounting. Turns are
// ordered by CreatedAt within a conversation.
type Turn struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	Model          string       `json:"model,omitempty"`
	TokensIn       int          `json:"tokens_in,omitempty"`
	TokensOut      int          `json:"tokens_out,omitempty"`
	DurationMs     int64        `json:"duration_ms,omitempty"`
	ToolCallCount  int          `json:"tool_call_count,omitempty"`
	TraceID        string       `json:"trace_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
