package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// RefineInput collects the signals that trigger plan refinement.
type RefineInput struct {
	Plan            *model.Plan
	Issues          []model.ValidationIssue
	ReasonCodes     []string
	BlockedSteps    []string
	ExecutedStepIDs []string
}

// trigger is one reason to mutate the plan, tied to a fragment.
type trigger struct {
	Fragment string
	Detail   string
}

const actionsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "action_type": { "type": "string", "enum": ["ADD", "MODIFY", "REMOVE", "REPLACE"] },
          "target_step_id": { "type": "string" },
          "target_plan_section": { "type": "string" },
          "new_step": {
            "type": "object",
            "properties": {
              "step_id": { "type": "string", "minLength": 1 },
              "description": { "type": "string", "minLength": 1 },
              "tool": { "type": "string" }
            },
            "required": ["step_id", "description"]
          },
          "changes": { "type": "object", "additionalProperties": { "type": "string" } },
          "reason": { "type": "string", "minLength": 1 },
          "inconsistency_detected": { "type": "boolean" }
        },
        "required": ["action_type", "reason"]
      }
    }
  },
  "required": ["actions"]
}`

const proposedStepSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "step_id": { "type": "string", "minLength": 1 },
    "description": { "type": "string", "minLength": 1 }
  },
  "required": ["step_id", "description"]
}`

// RefinePlan converts evaluation signals into a bounded list of refinement
// actions. Candidates are restricted to steps not yet executed; fragments at
// their cap are marked as requiring intervention and skipped; the global cap
// is a hard limit.
func (p *Planner) RefinePlan(ctx context.Context, in RefineInput, budget *Budget) ([]model.RefinementAction, error) {
	if budget == nil {
		budget = NewBudget(p.limits)
	}

	triggers := collectTriggers(in)
	if len(triggers) == 0 {
		return nil, nil
	}

	executed := make(map[string]bool, len(in.ExecutedStepIDs))
	for _, id := range in.ExecutedStepIDs {
		executed[id] = true
	}

	admitted := make([]trigger, 0, len(triggers))
	for _, tr := range triggers {
		if executed[tr.Fragment] {
			// Executed fragments are immutable; refinement only touches remaining work.
			continue
		}
		if budget.FragmentExhausted(tr.Fragment) {
			budget.intervened[tr.Fragment] = true
			log.Warn().Str("fragment", tr.Fragment).Msg("refinement: fragment at cap, requires intervention")
			continue
		}
		admitted = append(admitted, tr)
	}
	if len(admitted) == 0 {
		return nil, nil
	}

	proposed, err := p.requestActions(ctx, in, admitted)
	if err != nil {
		return nil, err
	}

	actions := make([]model.RefinementAction, 0, len(proposed))
	for _, action := range proposed {
		if action.TargetStepID != "" && executed[action.TargetStepID] {
			log.Debug().Str("target", action.TargetStepID).Msg("refinement: dropping action targeting executed step")
			continue
		}
		if err := action.Validate(); err != nil {
			log.Debug().Err(err).Msg("refinement: dropping malformed action")
			continue
		}
		if action.NewStep != nil && criticalStepIssue(action.NewStep) {
			log.Debug().Str("target", action.Fragment()).Msg("refinement: dropping action with critically invalid step")
			continue
		}
		if err := budget.admit(action.Fragment()); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func collectTriggers(in RefineInput) []trigger {
	var out []trigger
	for _, issue := range in.Issues {
		if issue.Informational() {
			continue
		}
		fragment := issue.StepID
		if fragment == "" {
			fragment = "plan"
		}
		out = append(out, trigger{Fragment: fragment, Detail: fmt.Sprintf("validation %s: %s", issue.Code, issue.Message)})
	}
	for _, code := range in.ReasonCodes {
		out = append(out, trigger{Fragment: "plan", Detail: "convergence " + code})
	}
	for _, id := range in.BlockedSteps {
		out = append(out, trigger{Fragment: id, Detail: "step blocked"})
	}
	return out
}

// criticalStepIssue validates a proposed step and reports CRITICAL findings.
func criticalStepIssue(step *model.PlanStep) bool {
	data, err := json.Marshal(step)
	if err != nil {
		return true
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(proposedStepSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return true
	}
	return !result.Valid()
}

type actionsEnvelope struct {
	Actions []model.RefinementAction `json:"actions"`
}

func (p *Planner) requestActions(ctx context.Context, in RefineInput, triggers []trigger) ([]model.RefinementAction, error) {
	if p.client == nil {
		return nil, orcerr.New(orcerr.CodePlanInvalid, orcerr.ComponentRefinement, orcerr.SeverityError, "no llm client configured")
	}

	prompt, err := buildRefinePrompt(in, triggers)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: refineSystemPrompt,
		MaxTokens:    4096,
		Temperature:  0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("refinement generation: %w", err)
	}

	raw, err := p.repair(ctx, resp.Text, actionsSchema)
	if err != nil {
		return nil, fmt.Errorf("refinement output unusable: %w", err)
	}

	var env actionsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse refinement output: %w", err)
	}
	return env.Actions, nil
}

const refineSystemPrompt = `You repair plans with minimal deltas.
Rules:
- Output ONLY valid JSON matching the provided schema.
- Propose ADD, MODIFY, REMOVE, or REPLACE actions for the listed triggers.
- Never touch steps listed as executed.
- Prefer one targeted action per trigger; give every action a concrete reason.`

func buildRefinePrompt(in RefineInput, triggers []trigger) (string, error) {
	planJSON, err := json.MarshalIndent(in.Plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}

	var b strings.Builder
	b.WriteString("Current plan:\n")
	b.Write(planJSON)
	b.WriteString("\n\nExecuted step ids (immutable): ")
	b.WriteString(strings.Join(in.ExecutedStepIDs, ", "))
	b.WriteString("\n\nTriggers:\n")
	for _, tr := range triggers {
		fmt.Fprintf(&b, "- [%s] %s\n", tr.Fragment, tr.Detail)
	}
	b.WriteString("\nActions schema:\n")
	b.WriteString(actionsSchema)
	return b.String(), nil
}

// ApplyActions materializes refinement deltas onto a plan copy. The index
// is rebuilt after every structural action so that later actions in the
// same batch resolve their targets against current positions.
func ApplyActions(plan *model.Plan, actions []model.RefinementAction) (*model.Plan, error) {
	out := plan.Snapshot()
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return nil, fmt.Errorf("apply actions: %w", err)
		}
		switch action.ActionType {
		case model.ActionAdd:
			step := *action.NewStep
			step.Status = model.StepPending
			if action.TargetStepID != "" {
				if !insertAfter(out, action.TargetStepID, &step) {
					out.Steps = append(out.Steps, &step)
				}
			} else {
				out.Steps = append(out.Steps, &step)
			}
			out.Renumber()
		case model.ActionModify:
			step := out.Step(action.TargetStepID)
			if step == nil {
				return nil, fmt.Errorf("apply actions: MODIFY targets unknown step %q", action.TargetStepID)
			}
			patchStep(step, action.Changes)
		case model.ActionRemove:
			if !removeStep(out, action.TargetStepID) {
				return nil, fmt.Errorf("apply actions: REMOVE targets unknown step %q", action.TargetStepID)
			}
			out.Renumber()
		case model.ActionReplace:
			idx := indexOf(out, action.TargetStepID)
			if idx < 0 {
				return nil, fmt.Errorf("apply actions: REPLACE targets unknown step %q", action.TargetStepID)
			}
			step := *action.NewStep
			step.Status = model.StepPending
			out.Steps[idx] = &step
			out.Renumber()
		}
	}
	return out, nil
}

func patchStep(step *model.PlanStep, changes map[string]string) {
	for field, value := range changes {
		switch field {
		case "description":
			step.Description = value
		case "tool":
			step.Tool = value
		case "agent":
			step.Agent = value
		case "incoming_context":
			step.IncomingContext = value
		}
	}
}

func indexOf(plan *model.Plan, id string) int {
	for i, step := range plan.Steps {
		if step.StepID == id {
			return i
		}
	}
	return -1
}

func insertAfter(plan *model.Plan, id string, step *model.PlanStep) bool {
	idx := indexOf(plan, id)
	if idx < 0 {
		return false
	}
	plan.Steps = append(plan.Steps[:idx+1], append([]*model.PlanStep{step}, plan.Steps[idx+1:]...)...)
	return true
}

func removeStep(plan *model.Plan, id string) bool {
	idx := indexOf(plan, id)
	if idx < 0 {
		return false
	}
	plan.Steps = append(plan.Steps[:idx], plan.Steps[idx+1:]...)
	return true
}
