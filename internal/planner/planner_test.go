package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/pkg/models"
)

// fakeStepProvider answers Chat with a fixed decomposition response (or an
// error), matching the planner's only LLM call shape.
type fakeStepProvider struct {
	text string
	err  error
}

func (p *fakeStepProvider) Chat(ctx context.Context, req provider.Request) (provider.Chunk, error) {
	if p.err != nil {
		return provider.Chunk{}, p.err
	}
	return provider.Chunk{Kind: provider.ChunkDone, Text: p.text}, nil
}
func (p *fakeStepProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	return nil, errors.New("not implemented")
}
func (p *fakeStepProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}
func (p *fakeStepProvider) Models() []string { return nil }
func (p *fakeStepProvider) Name() string     { return "fake" }

func runnerAlwaysSucceeds(result string) StepRunner {
	return func(ctx context.Context, conversationID, prompt string) (string, error) {
		return result, nil
	}
}

func TestCreatePlan_ParsesDependencyOrderedSteps(t *testing.T) {
	llm := &fakeStepProvider{text: `[{"description":"first"},{"description":"second","dependsOn":[0]}]`}
	p := New(llm, runnerAlwaysSucceeds("done"))

	plan, err := p.CreatePlan(context.Background(), "ship the feature")
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if plan.Status != models.PlanPending {
		t.Fatalf("expected a new plan to start pending, got %s", plan.Status)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != plan.Steps[0].ID {
		t.Fatalf("expected step 2 to depend on step 1's id, got %v", plan.Steps[1].DependsOn)
	}
}

func TestCreatePlan_FallsBackToSingleStepOnUnparseableOutput(t *testing.T) {
	llm := &fakeStepProvider{text: "not json at all"}
	p := New(llm, runnerAlwaysSucceeds("done"))

	plan, err := p.CreatePlan(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected a single synthesized step, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Description != "do the thing" {
		t.Fatalf("expected the synthesized step to restate the goal, got %q", plan.Steps[0].Description)
	}
}

func TestExecuteNext_RunsOnlyReadySteps(t *testing.T) {
	llm := &fakeStepProvider{text: `[{"description":"first"},{"description":"second","dependsOn":[0]}]`}
	p := New(llm, runnerAlwaysSucceeds("ok"))

	plan, err := p.CreatePlan(context.Background(), "goal")
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}

	executed, err := p.ExecuteNext(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("ExecuteNext() error = %v", err)
	}
	if len(executed) != 1 {
		t.Fatalf("expected only the dependency-free step to run, got %d", len(executed))
	}

	updated, _ := p.Get(plan.ID)
	if updated.Status != models.PlanActive {
		t.Fatalf("expected plan to still be active with one step left, got %s", updated.Status)
	}

	executed, err = p.ExecuteNext(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("second ExecuteNext() error = %v", err)
	}
	if len(executed) != 1 {
		t.Fatalf("expected the now-unblocked step to run, got %d", len(executed))
	}
	updated, _ = p.Get(plan.ID)
	if updated.Status != models.PlanCompleted {
		t.Fatalf("expected plan to complete once every step ran, got %s", updated.Status)
	}
}

func TestExecuteNext_StepFailureMarksPlanFailed(t *testing.T) {
	llm := &fakeStepProvider{text: `[{"description":"only step"}]`}
	failingRunner := func(ctx context.Context, conversationID, prompt string) (string, error) {
		return "", errors.New("boom")
	}
	p := New(llm, failingRunner)

	plan, err := p.CreatePlan(context.Background(), "goal")
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if _, err := p.ExecuteNext(context.Background(), plan.ID); err != nil {
		t.Fatalf("ExecuteNext() error = %v", err)
	}

	updated, _ := p.Get(plan.ID)
	if updated.Status != models.PlanFailed {
		t.Fatalf("expected plan to be failed after its only step errored, got %s", updated.Status)
	}
	if updated.Steps[0].Error == "" {
		t.Fatal("expected the failed step to carry the runner's error")
	}
}

func TestCancel_MarksNonTerminalStepsCancelled(t *testing.T) {
	llm := &fakeStepProvider{text: `[{"description":"a"},{"description":"b","dependsOn":[0]}]`}
	p := New(llm, runnerAlwaysSucceeds("ok"))

	plan, err := p.CreatePlan(context.Background(), "goal")
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if _, err := p.ExecuteNext(context.Background(), plan.ID); err != nil {
		t.Fatalf("ExecuteNext() error = %v", err)
	}

	if err := p.Cancel(plan.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	updated, _ := p.Get(plan.ID)
	if updated.Status != models.PlanCancelled {
		t.Fatalf("expected plan cancelled, got %s", updated.Status)
	}
	if updated.Steps[0].Status != models.PlanCompleted {
		t.Fatalf("expected the already-completed step to stay completed, got %s", updated.Steps[0].Status)
	}
	if updated.Steps[1].Status != models.PlanCancelled {
		t.Fatalf("expected the not-yet-run step to be cancelled, got %s", updated.Steps[1].Status)
	}
}

func TestList_FiltersByStatus(t *testing.T) {
	llm := &fakeStepProvider{text: `[{"description":"only"}]`}
	p := New(llm, runnerAlwaysSucceeds("ok"))

	plan, err := p.CreatePlan(context.Background(), "goal")
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}

	if got := p.List(models.PlanPending); len(got) != 1 {
		t.Fatalf("expected 1 pending plan, got %d", len(got))
	}
	if got := p.List(models.PlanCompleted); len(got) != 0 {
		t.Fatalf("expected 0 completed plans before execution, got %d", len(got))
	}

	if _, err := p.ExecuteNext(context.Background(), plan.ID); err != nil {
		t.Fatalf("ExecuteNext() error = %v", err)
	}
	if got := p.List(models.PlanCompleted); len(got) != 1 {
		t.Fatalf("expected 1 completed plan after execution, got %d", len(got))
	}
	if got := p.List(""); len(got) != 1 {
		t.Fatalf("expected the empty filter to return every plan, got %d", len(got))
	}
}
