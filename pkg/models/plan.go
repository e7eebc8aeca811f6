package models

import "time"

// PlanStatus is the lifecycle state of a Plan or PlanStep.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanCancelled:
		return true
	default:
		return false
	}
}

// PlanStep is one node in a Plan's dependency DAG.
type PlanStep struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      PlanStatus `json:"status"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	ToolHint    string     `json:"tool_hint,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Plan is a goal decomposed into dependency-ordered steps.
type Plan struct {
	ID          string     `json:"id"`
	Goal        string     `json:"goal"`
	Status      PlanStatus `json:"status"`
	Steps       []PlanStep `json:"steps"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// StepByID returns a pointer to the step with the given id, or nil.
func (p *Plan) StepByID(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}
