// Package planner decomposes a goal into a dependency-ordered DAG of steps
// and executes them, delegating each step's actual work to an injected
// agent-loop factory so the planner itself stays free of a dependency on
// the agent package (planner -> agent -> tools -> ... would otherwise
// cycle back through the orchestrator). Follows the same "parse LLM
// JSON output, unwrap markdown fences or an object wrapper, fall back to
// a single synthesized item on unparseable output" idiom used for other
// structured LLM responses elsewhere in this codebase.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/pkg/models"
)

const planTemperature = 0.3

// StepRunner executes one plan step's prompt as its own sub-conversation
// and returns the resulting text, or an error. The orchestrator supplies
// an implementation backed by the agent loop.
type StepRunner func(ctx context.Context, conversationID, prompt string) (string, error)

// Planner holds an in-memory table of plans, the same in-memory-map-
// plus-mutex pattern used by the other session/task registries in this
// codebase.
type Planner struct {
	llm    provider.Provider
	runner StepRunner
	logger *slog.Logger

	mu    sync.RWMutex
	plans map[string]*models.Plan
}

// New creates a planner. runner is invoked once per step during
// executeNext/replan continuations.
func New(llm provider.Provider, runner StepRunner) *Planner {
	return &Planner{
		llm:    llm,
		runner: runner,
		logger: slog.Default().With("component", "planner"),
		plans:  make(map[string]*models.Plan),
	}
}

type rawStep struct {
	Description string `json:"description"`
	DependsOn   []int  `json:"dependsOn"`
	ToolHint    string `json:"toolHint"`
}

type rawStepsWrapper struct {
	Steps []rawStep `json:"steps"`
}

// CreatePlan asks the LLM to decompose goal into a dependency-ordered step
// list and stores the result.
func (p *Planner) CreatePlan(ctx context.Context, goal string) (*models.Plan, error) {
	steps, err := p.generateSteps(ctx, goal, buildDecompositionPrompt(goal))
	if err != nil || len(steps) == 0 {
		steps = []rawStep{{Description: goal}}
	}

	plan := &models.Plan{
		ID:        uuid.NewString(),
		Goal:      goal,
		Status:    models.PlanPending,
		Steps:     remapSteps(steps),
		CreatedAt: time.Now(),
	}

	p.mu.Lock()
	p.plans[plan.ID] = plan
	p.mu.Unlock()
	p.logger.Info("created plan", "plan_id", plan.ID, "steps", len(plan.Steps))
	return plan, nil
}

func buildDecompositionPrompt(goal string) string {
	return fmt.Sprintf(`Decompose the following goal into a dependency-ordered list of steps.

Goal: %s

Return a JSON array of objects: [{"description": "...", "dependsOn": [indices of prior steps this depends on], "toolHint": "optional hint"}].
Indices are 0-based positions into this same array. Return only JSON, no prose.`, goal)
}

func (p *Planner) generateSteps(ctx context.Context, goal, prompt string) ([]rawStep, error) {
	if p.llm == nil {
		return nil, fmt.Errorf("planner: no LLM provider configured")
	}
	req := provider.Request{
		SystemPrompt: "You are a planning assistant that decomposes goals into executable steps.",
		Messages:     []models.Message{{Role: models.RoleUser, Text: prompt}},
		Temperature:  planTemperature,
	}
	chunk, err := p.llm.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planner: decomposition call: %w", err)
	}
	return parseSteps(chunk.Text)
}

// parseSteps unwraps a raw LLM reply into a step list: strips markdown
// fences, then tries a bare array, then an object with a "steps" key.
func parseSteps(text string) ([]rawStep, error) {
	cleaned := stripFence(text)

	var steps []rawStep
	if err := json.Unmarshal([]byte(cleaned), &steps); err == nil {
		return steps, nil
	}

	var wrapper rawStepsWrapper
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil && len(wrapper.Steps) > 0 {
		return wrapper.Steps, nil
	}

	return nil, fmt.Errorf("planner: could not parse steps from LLM output")
}

// remapSteps allocates step ids and remaps dependsOn indices to them.
func remapSteps(raw []rawStep) []models.PlanStep {
	ids := make([]string, len(raw))
	for i := range raw {
		ids[i] = uuid.NewString()
	}
	steps := make([]models.PlanStep, len(raw))
	for i, r := range raw {
		var deps []string
		for _, idx := range r.DependsOn {
			if idx >= 0 && idx < len(ids) && idx != i {
				deps = append(deps, ids[idx])
			}
		}
		steps[i] = models.PlanStep{
			ID:          ids[i],
			Description: r.Description,
			Status:      models.PlanPending,
			DependsOn:   deps,
			ToolHint:    r.ToolHint,
		}
	}
	return steps
}

// ExecuteNext runs every pending step whose dependencies are all
// completed, sequentially, each in its own sub-conversation, then updates
// the plan's overall status.
func (p *Planner) ExecuteNext(ctx context.Context, planID string) ([]models.PlanStep, error) {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("planner: unknown plan %q", planID)
	}

	runnable := p.runnableSteps(plan)
	for i := range runnable {
		runnable[i].Status = models.PlanActive
	}

	var executed []models.PlanStep
	for _, step := range runnable {
		p.runStep(ctx, plan, step)
		executed = append(executed, *plan.StepByID(step.ID))
	}

	p.updatePlanStatus(plan)
	p.logger.Info("executed plan steps", "plan_id", plan.ID, "ran", len(executed), "status", plan.Status)
	return executed, nil
}

func (p *Planner) runnableSteps(plan *models.Plan) []*models.PlanStep {
	completed := make(map[string]bool)
	for i := range plan.Steps {
		if plan.Steps[i].Status == models.PlanCompleted {
			completed[plan.Steps[i].ID] = true
		}
	}

	var runnable []*models.PlanStep
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status != models.PlanPending {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, step)
		}
	}
	return runnable
}

func (p *Planner) runStep(ctx context.Context, plan *models.Plan, step *models.PlanStep) {
	if p.runner == nil {
		step.Status = models.PlanFailed
		step.Error = "planner: no step runner configured"
		return
	}

	prompt := p.stepPrompt(plan, step)
	conversationID := plan.ID + "-" + step.ID

	result, err := p.runner(ctx, conversationID, prompt)
	if err != nil {
		step.Status = models.PlanFailed
		step.Error = err.Error()
		return
	}
	step.Status = models.PlanCompleted
	step.Result = result
}

func (p *Planner) stepPrompt(plan *models.Plan, step *models.PlanStep) string {
	var sb strings.Builder
	sb.WriteString("Overall goal: " + plan.Goal + "\n\n")
	sb.WriteString("Step: " + step.Description + "\n")
	if step.ToolHint != "" {
		sb.WriteString("Hint: " + step.ToolHint + "\n")
	}
	if len(step.DependsOn) > 0 {
		sb.WriteString("\nResults from dependency steps:\n")
		for _, depID := range step.DependsOn {
			if dep := plan.StepByID(depID); dep != nil && dep.Result != "" {
				sb.WriteString("- " + dep.Description + ": " + dep.Result + "\n")
			}
		}
	}
	return sb.String()
}

func (p *Planner) updatePlanStatus(plan *models.Plan) {
	anyFailed := false
	allTerminal := true
	for _, step := range plan.Steps {
		if step.Status == models.PlanFailed {
			anyFailed = true
		}
		if !step.Status.IsTerminal() {
			allTerminal = false
		}
	}
	switch {
	case anyFailed:
		plan.Status = models.PlanFailed
	case allTerminal:
		plan.Status = models.PlanCompleted
		now := time.Now()
		plan.CompletedAt = &now
	default:
		plan.Status = models.PlanActive
	}
}

// Replan summarizes the plan's current step statuses plus reason, asks the
// LLM for a fresh remaining-steps array, and replaces all non-terminal
// steps with the new ones while keeping completed/failed steps intact.
func (p *Planner) Replan(ctx context.Context, planID, reason string) (*models.Plan, error) {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("planner: unknown plan %q", planID)
	}

	prompt := p.replanPrompt(plan, reason)
	steps, err := p.generateSteps(ctx, plan.Goal, prompt)
	if err != nil || len(steps) == 0 {
		return plan, fmt.Errorf("planner: replan failed to produce steps: %w", err)
	}

	var kept []models.PlanStep
	for _, s := range plan.Steps {
		if s.Status.IsTerminal() {
			kept = append(kept, s)
		}
	}
	plan.Steps = append(kept, remapSteps(steps)...)
	plan.Status = models.PlanActive
	return plan, nil
}

func (p *Planner) replanPrompt(plan *models.Plan, reason string) string {
	var sb strings.Builder
	sb.WriteString("Goal: " + plan.Goal + "\n\n")
	sb.WriteString("Reason for replanning: " + reason + "\n\n")
	sb.WriteString("Current steps:\n")
	for _, s := range plan.Steps {
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", s.Status, s.Description))
	}
	sb.WriteString("\nReturn a JSON array of replacement steps for everything not yet completed, in the same format as before.")
	return sb.String()
}

// Cancel sets the plan and all of its non-terminal steps to cancelled.
func (p *Planner) Cancel(planID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	if !ok {
		return fmt.Errorf("planner: unknown plan %q", planID)
	}
	for i := range plan.Steps {
		if !plan.Steps[i].Status.IsTerminal() {
			plan.Steps[i].Status = models.PlanCancelled
		}
	}
	plan.Status = models.PlanCancelled
	return nil
}

// Get returns a plan by id.
func (p *Planner) Get(planID string) (*models.Plan, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	plan, ok := p.plans[planID]
	return plan, ok
}

// List returns every plan, optionally filtered by status.
func (p *Planner) List(status models.PlanStatus) []models.Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Plan, 0, len(p.plans))
	for _, plan := range p.plans {
		if status != "" && plan.Status != status {
			continue
		}
		out = append(out, *plan)
	}
	return out
}

// stripFence removes a leading/trailing ```-delimited code fence, the same
// idiom used throughout this repo's other LLM-JSON-output consumers.
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
