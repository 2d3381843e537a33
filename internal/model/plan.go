// Package model defines the data structures shared across the orchestration
// engine: plans, task profiles, execution passes, refinement actions, and the
// final results of a run.
package model

import (
	"fmt"
	"strings"
)

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
	StepInvalid  StepStatus = "invalid"
)

// Terminal reports whether the status permits no further transition.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepComplete, StepFailed, StepInvalid:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status machine allows moving to next.
// Steps only move pending→running→{complete,failed,invalid}.
func (s StepStatus) CanTransition(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepRunning
	case StepRunning:
		return next.Terminal()
	default:
		return false
	}
}

// ClarityState is the executor's judgment of how actionable a step was.
type ClarityState string

const (
	ClarityClear          ClarityState = "CLEAR"
	ClarityPartiallyClear ClarityState = "PARTIALLY_CLEAR"
	ClarityBlocked        ClarityState = "BLOCKED"
	ClarityUnset          ClarityState = ""
)

// PlanStep is one unit of work inside a plan. Steps are owned by their Plan
// and mutated only through Plan accessors keyed by step id.
type PlanStep struct {
	StepID          string       `json:"step_id"`
	Description     string       `json:"description"`
	Status          StepStatus   `json:"status"`
	Tool            string       `json:"tool,omitempty"`
	Agent           string       `json:"agent,omitempty"`
	StepIndex       int          `json:"step_index"`
	TotalSteps      int          `json:"total_steps"`
	IncomingContext string       `json:"incoming_context,omitempty"`
	HandoffToNext   string       `json:"handoff_to_next,omitempty"`
	Clarity         ClarityState `json:"clarity_state,omitempty"`
	Errors          []string     `json:"errors,omitempty"`
}

// Plan is an ordered set of steps pursuing one goal. The zero value is not
// usable; construct with NewPlan.
type Plan struct {
	Goal  string      `json:"goal"`
	Steps []*PlanStep `json:"steps"`

	index map[string]int
}

// NewPlan builds a plan owning the given steps, assigning dense indices.
func NewPlan(goal string, steps []*PlanStep) *Plan {
	p := &Plan{Goal: goal, Steps: steps}
	p.Renumber()
	return p
}

// Renumber rebuilds the id index and reassigns step_index/total_steps 1..N.
// Call after any structural mutation.
func (p *Plan) Renumber() {
	p.index = make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		step.StepIndex = i + 1
		step.TotalSteps = len(p.Steps)
		p.index[step.StepID] = i
	}
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *PlanStep {
	if p.index == nil {
		p.Renumber()
	}
	i, ok := p.index[id]
	if !ok {
		return nil
	}
	return p.Steps[i]
}

// MarkStatus transitions a step through the status machine. It rejects
// transitions the machine does not allow, including skipping running.
func (p *Plan) MarkStatus(id string, next StepStatus) error {
	step := p.Step(id)
	if step == nil {
		return fmt.Errorf("plan has no step %q", id)
	}
	if !step.Status.CanTransition(next) {
		return fmt.Errorf("step %s: illegal transition %s -> %s", id, step.Status, next)
	}
	step.Status = next
	return nil
}

// SetClarity records the executor clarity judgment for a step.
func (p *Plan) SetClarity(id string, clarity ClarityState) error {
	step := p.Step(id)
	if step == nil {
		return fmt.Errorf("plan has no step %q", id)
	}
	step.Clarity = clarity
	return nil
}

// AppendError records a step-scoped error message.
func (p *Plan) AppendError(id, msg string) error {
	step := p.Step(id)
	if step == nil {
		return fmt.Errorf("plan has no step %q", id)
	}
	step.Errors = append(step.Errors, msg)
	return nil
}

// ReadySteps returns steps still pending, in plan order.
func (p *Plan) ReadySteps() []*PlanStep {
	out := make([]*PlanStep, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step.Status == StepPending {
			out = append(out, step)
		}
	}
	return out
}

// AllTerminal reports whether every step reached a terminal status.
func (p *Plan) AllTerminal() bool {
	for _, step := range p.Steps {
		if !step.Status.Terminal() {
			return false
		}
	}
	return len(p.Steps) > 0
}

// ExecutedStepIDs returns ids of steps that left pending state.
func (p *Plan) ExecutedStepIDs() []string {
	out := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step.Status != StepPending {
			out = append(out, step.StepID)
		}
	}
	return out
}

// Snapshot returns a deep copy safe to freeze inside an ExecutionPass.
func (p *Plan) Snapshot() *Plan {
	steps := make([]*PlanStep, len(p.Steps))
	for i, step := range p.Steps {
		clone := *step
		if step.Errors != nil {
			clone.Errors = append([]string(nil), step.Errors...)
		}
		steps[i] = &clone
	}
	return NewPlan(p.Goal, steps)
}

// Validate performs structural checks: non-empty goal, unique non-empty ids.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Goal) == "" {
		return fmt.Errorf("plan goal is required")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		if strings.TrimSpace(step.StepID) == "" {
			return fmt.Errorf("step[%d]: id is required", i)
		}
		if seen[step.StepID] {
			return fmt.Errorf("step[%d]: duplicate id %q", i, step.StepID)
		}
		seen[step.StepID] = true
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("step %s: description is required", step.StepID)
		}
	}
	return nil
}
