// Package contract enforces the structural invariants wrapping every phase:
// ExecutionPass pre/post conditions and the shape contracts between phases.
// Violations are structural bugs; they propagate unrecovered.
package contract

import (
	"fmt"

	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
)

// Violation is the typed error raised when a contract fails. It carries the
// transition name, the condition that failed, and retryability.
type Violation struct {
	Transition string
	Condition  string
	Retryable  bool
}

func (v *Violation) Error() string {
	return fmt.Sprintf("contract %s violated: %s (retryable=%t)", v.Transition, v.Condition, v.Retryable)
}

// AsOrcErr converts the violation to the shared error taxonomy.
func (v *Violation) AsOrcErr() *orcerr.Error {
	return orcerr.Wrap(v, orcerr.CodeContractViolation, orcerr.ComponentTransition, orcerr.SeverityCritical, "phase transition contract violated").
		WithContext("transition", v.Transition).
		WithContext("condition", v.Condition).
		WithRetryable(v.Retryable)
}

func violated(transition, condition string) error {
	return (&Violation{Transition: transition, Condition: condition}).AsOrcErr()
}

// ValidatePassBefore checks a pass record at phase entry.
func ValidatePassBefore(pass *model.ExecutionPass) error {
	const name = "pass_before"
	if pass == nil {
		return violated(name, "pass is nil")
	}
	if pass.PassNumber < 0 {
		return violated(name, fmt.Sprintf("pass_number %d negative", pass.PassNumber))
	}
	if !pass.Phase.Valid() {
		return violated(name, fmt.Sprintf("phase %q invalid", pass.Phase))
	}
	if pass.PlanState == nil {
		return violated(name, "plan_state missing")
	}
	if pass.TTLRemaining < 0 {
		return violated(name, fmt.Sprintf("ttl_remaining %d negative", pass.TTLRemaining))
	}
	if pass.Timing.Start.IsZero() {
		return violated(name, "start_time missing")
	}
	return nil
}

// ValidatePassAfter checks a closed pass record at phase exit.
func ValidatePassAfter(pass *model.ExecutionPass) error {
	const name = "pass_after"
	if err := ValidatePassBefore(pass); err != nil {
		return err
	}
	if pass.Timing.End.IsZero() {
		return violated(name, "end_time missing")
	}
	if pass.Timing.Duration < 0 {
		return violated(name, "duration negative")
	}
	if pass.Phase == model.PhaseC {
		if pass.ExecutionResults == nil {
			return violated(name, "phase C requires execution_results list")
		}
		if pass.EvaluationResults == nil {
			return violated(name, "phase C requires evaluation_results")
		}
		if pass.EvaluationResults.Assessment == nil {
			return violated(name, "phase C evaluation requires convergence_assessment")
		}
	}
	for i, res := range pass.ExecutionResults {
		if res.StepID == "" {
			return violated(name, fmt.Sprintf("execution_result[%d] missing step_id", i))
		}
		if res.Status == "" {
			return violated(name, fmt.Sprintf("execution_result[%d] missing status", i))
		}
	}
	return nil
}

// AtoB carries the Phase A outputs into Phase B.
type AtoB struct {
	Profile     *model.TaskProfile
	InitialPlan *model.Plan
	TTL         int
}

// Check validates the A→B input shape.
func (t AtoB) Check() error {
	const name = "A->B"
	if t.Profile == nil {
		return violated(name, "profile missing")
	}
	if err := t.Profile.Validate(); err != nil {
		return violated(name, err.Error())
	}
	if t.InitialPlan == nil {
		return violated(name, "initial_plan missing")
	}
	if t.TTL < 0 {
		return violated(name, "ttl negative")
	}
	return nil
}

// BtoC carries the refined plan into the execution loop.
type BtoC struct {
	RefinedPlan *model.Plan
}

// Check validates the B→C input shape.
func (t BtoC) Check() error {
	const name = "B->C"
	if t.RefinedPlan == nil {
		return violated(name, "refined_plan missing")
	}
	if len(t.RefinedPlan.Steps) == 0 {
		return violated(name, "refined_plan has no steps")
	}
	if err := t.RefinedPlan.Validate(); err != nil {
		return violated(name, err.Error())
	}
	return nil
}

// CtoD carries execution and evaluation results into budget adjustment.
type CtoD struct {
	ExecutionResults  []model.StepResult
	EvaluationResults *model.EvaluationResult
}

// Check validates the C→D input shape.
func (t CtoD) Check() error {
	const name = "C->D"
	if t.ExecutionResults == nil {
		return violated(name, "execution_results missing")
	}
	if t.EvaluationResults == nil {
		return violated(name, "evaluation_results missing")
	}
	return nil
}

// DOut validates the Phase D output shape.
type DOut struct {
	UpdatedProfile *model.TaskProfile
}

// Check validates the C→D output shape.
func (t DOut) Check() error {
	const name = "C->D"
	if t.UpdatedProfile == nil {
		return violated(name, "updated_profile missing")
	}
	if err := t.UpdatedProfile.Validate(); err != nil {
		return violated(name, err.Error())
	}
	return nil
}

// DtoLoop carries the adjusted budget back into the pass loop.
type DtoLoop struct {
	Profile      *model.TaskProfile
	TTLRemaining int
}

// Check validates the D→A/B input shape.
func (t DtoLoop) Check() error {
	const name = "D->loop"
	if t.Profile == nil {
		return violated(name, "profile missing")
	}
	if t.TTLRemaining < 0 {
		return violated(name, "ttl_remaining negative")
	}
	return nil
}
