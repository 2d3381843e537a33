package model

import "fmt"

// ActionType enumerates plan refinement deltas.
type ActionType string

const (
	ActionAdd     ActionType = "ADD"
	ActionModify  ActionType = "MODIFY"
	ActionRemove  ActionType = "REMOVE"
	ActionReplace ActionType = "REPLACE"
)

// Valid reports whether the action type is known.
func (a ActionType) Valid() bool {
	switch a {
	case ActionAdd, ActionModify, ActionRemove, ActionReplace:
		return true
	default:
		return false
	}
}

// RefinementAction is one auditable plan delta. Immutable once created.
type RefinementAction struct {
	ActionType            ActionType        `json:"action_type"`
	TargetStepID          string            `json:"target_step_id,omitempty"`
	TargetPlanSection     string            `json:"target_plan_section,omitempty"`
	NewStep               *PlanStep         `json:"new_step,omitempty"`
	Changes               map[string]string `json:"changes,omitempty"`
	Reason                string            `json:"reason"`
	InconsistencyDetected bool              `json:"inconsistency_detected,omitempty"`
}

// Fragment identifies the plan fragment an action touches, for per-fragment
// refinement accounting.
func (a RefinementAction) Fragment() string {
	if a.TargetStepID != "" {
		return a.TargetStepID
	}
	if a.TargetPlanSection != "" {
		return a.TargetPlanSection
	}
	return "plan"
}

// Validate checks structural requirements per action type.
func (a RefinementAction) Validate() error {
	if !a.ActionType.Valid() {
		return fmt.Errorf("unknown action type %q", a.ActionType)
	}
	switch a.ActionType {
	case ActionAdd:
		if a.NewStep == nil {
			return fmt.Errorf("ADD action requires new_step")
		}
	case ActionModify:
		if a.TargetStepID == "" {
			return fmt.Errorf("MODIFY action requires target_step_id")
		}
		if len(a.Changes) == 0 {
			return fmt.Errorf("MODIFY action requires changes")
		}
	case ActionRemove:
		if a.TargetStepID == "" {
			return fmt.Errorf("REMOVE action requires target_step_id")
		}
	case ActionReplace:
		if a.TargetStepID == "" || a.NewStep == nil {
			return fmt.Errorf("REPLACE action requires target_step_id and new_step")
		}
	}
	return nil
}

// ConsistencyStatus carries the four alignment flags of an assessment.
type ConsistencyStatus struct {
	PlanAligned   bool `json:"plan_aligned"`
	StepAligned   bool `json:"step_aligned"`
	AnswerAligned bool `json:"answer_aligned"`
	MemoryAligned bool `json:"memory_aligned"`
}

// All reports whether every alignment flag holds.
func (c ConsistencyStatus) All() bool {
	return c.PlanAligned && c.StepAligned && c.AnswerAligned && c.MemoryAligned
}

// ConvergenceAssessment is the judged state of an execution's results.
// ReasonCodes is always non-empty.
type ConvergenceAssessment struct {
	Converged         bool              `json:"converged"`
	ReasonCodes       []string          `json:"reason_codes"`
	CompletenessScore float64           `json:"completeness_score"`
	CoherenceScore    float64           `json:"coherence_score"`
	Consistency       ConsistencyStatus `json:"consistency_status"`
	DetectedIssues    []string          `json:"detected_issues,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}
