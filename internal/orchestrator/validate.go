package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/tool"
)

// SemanticValidator is the default Validator: structural plan checks plus
// result-level findings. It has no LLM dependency, so it is always safe to
// wire even for offline runs.
type SemanticValidator struct {
	Registry *tool.Registry
}

// Validate inspects a plan and, when present, its execution results.
// Findings are graded: critical blocks convergence, warning feeds
// refinement, info is advisory only.
func (v *SemanticValidator) Validate(plan *model.Plan, results []model.StepResult) []model.ValidationIssue {
	var issues []model.ValidationIssue
	if plan == nil {
		return []model.ValidationIssue{{
			Code:     "plan_missing",
			Severity: model.SeverityCritical,
			Message:  "no plan to validate",
		}}
	}

	for _, step := range plan.Steps {
		if strings.TrimSpace(step.Description) == "" {
			issues = append(issues, model.ValidationIssue{
				Code:     "step_description_empty",
				Severity: model.SeverityCritical,
				Message:  "step has no description",
				StepID:   step.StepID,
			})
		}
		if step.Tool != "" && v.Registry != nil && v.Registry.Get(step.Tool) == nil {
			issues = append(issues, model.ValidationIssue{
				Code:     "tool_unknown",
				Severity: model.SeverityCritical,
				Message:  fmt.Sprintf("tool %q is not registered", step.Tool),
				StepID:   step.StepID,
			})
		}
		if step.Clarity == model.ClarityBlocked {
			issues = append(issues, model.ValidationIssue{
				Code:     "step_blocked",
				Severity: model.SeverityWarning,
				Message:  "step reported BLOCKED clarity",
				StepID:   step.StepID,
			})
		}
	}

	for _, res := range results {
		switch res.Status {
		case model.StepFailed:
			issues = append(issues, model.ValidationIssue{
				Code:     "step_failed",
				Severity: model.SeverityWarning,
				Message:  res.Error,
				StepID:   res.StepID,
			})
		case model.StepComplete:
			if strings.TrimSpace(res.Output) == "" {
				issues = append(issues, model.ValidationIssue{
					Code:     "step_output_empty",
					Severity: model.SeverityInfo,
					Message:  "step completed with empty output",
					StepID:   res.StepID,
				})
			}
		}
	}
	return issues
}
