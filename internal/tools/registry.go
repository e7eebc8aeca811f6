package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/pkg/models"
)

// Registry manages available tools with thread-safe registration and
// lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	// skills resolves a skill id to its skill for the use_skill rerouting
	// path; nil (no rerouting) until SetSkillResolver is called.
	skills func(id string) (*models.Skill, bool)
}

// MaxToolNameLength and MaxToolParamsSize bound a call before it reaches a
// tool's Execute, guarding against resource exhaustion from a malformed
// or hostile tool call.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// SetSkillResolver wires the use_skill rerouting lookup: an unknown
// tool name that matches a skill id is answered with that skill's raw
// instructions as the tool result (tagged with Metadata["use_skill"])
// instead of failing with "tool not found".
func (r *Registry) SetSkillResolver(resolve func(id string) (*models.Skill, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills = resolve
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Definitions returns the LLM-facing tool definitions for every registered
// tool, for inclusion in a provider.Request.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// Execute runs a tool by name, validating size limits first and
// rerouting unknown names that match a registered skill id (use_skill).
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, execCtx ExecutionContext) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength), IsError: true}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &models.ToolResult{Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize), IsError: true}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	resolve := r.skills
	r.mu.RUnlock()

	if !ok {
		if resolve != nil {
			if skill, found := resolve(name); found {
				payload, _ := json.Marshal(map[string]string{"skill_instructions": skill.Instructions})
				return &models.ToolResult{Content: string(payload), Metadata: map[string]any{"use_skill": skill.ID}}, nil
			}
		}
		return &models.ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}
	return tool.Execute(ctx, params, execCtx)
}
