package orchestrator

import (
	"context"
	"fmt"

	"github.com/lumeon/arbiter/internal/convergence"
	"github.com/lumeon/arbiter/internal/eventlog"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/lumeon/arbiter/internal/planner"
)

// BatchState carries the mutable loop state through one Phase C batch.
type BatchState struct {
	TTLRemaining int
}

// PhaseCExecuteBatch runs every ready step in plan order. Each executed
// step costs one TTL unit; a per-step failure is recorded without aborting
// the batch. It returns the results and an error only for TTL exhaustion
// mid-batch.
func (o *PhaseOrchestrator) PhaseCExecuteBatch(ctx context.Context, plan *model.Plan, state *BatchState) ([]model.StepResult, error) {
	results := make([]model.StepResult, 0, len(plan.Steps))
	var handoff string

	for _, step := range plan.ReadySteps() {
		if state.TTLRemaining <= 0 {
			return results, orcerr.TTLExpired(string(model.PhaseC))
		}

		if handoff != "" && step.IncomingContext == "" {
			step.IncomingContext = handoff
		}

		if err := plan.MarkStatus(step.StepID, model.StepRunning); err != nil {
			// Structural: the step machine refused; record and move on.
			results = append(results, model.StepResult{StepID: step.StepID, Status: step.Status, Error: err.Error()})
			continue
		}
		o.deps.Logger.Log(eventlog.StateTransition(o.corr, "step", string(model.StepPending), string(model.StepRunning), step.StepID))

		output, clarity, err := o.deps.Executor.ExecuteStep(ctx, step)
		state.TTLRemaining--

		if err != nil {
			_ = plan.MarkStatus(step.StepID, model.StepFailed)
			_ = plan.AppendError(step.StepID, err.Error())
			results = append(results, model.StepResult{
				StepID: step.StepID,
				Status: model.StepFailed,
				Error:  err.Error(),
			})
			o.log.Warn().Err(err).Str("step_id", step.StepID).Msg("step failed")
			o.deps.Logger.Log(eventlog.Error(o.corr, orcerr.CodeToolFailure, string(orcerr.SeverityError), err.Error(), string(orcerr.ComponentExecution), map[string]string{"step_id": step.StepID}))
			handoff = ""
			continue
		}

		_ = plan.MarkStatus(step.StepID, model.StepComplete)
		_ = plan.SetClarity(step.StepID, clarity)
		step.HandoffToNext = output
		handoff = output

		results = append(results, model.StepResult{
			StepID:  step.StepID,
			Status:  model.StepComplete,
			Output:  output,
			Clarity: clarity,
		})
		o.log.Debug().Str("step_id", step.StepID).Str("clarity", string(clarity)).Msg("step complete")
	}
	return results, nil
}

// PhaseCEvaluate scores the batch. The auto-convergence shortcut (all steps
// terminal plus zero actionable validation issues) applies only when the
// convergence engine was not invoked or returned its unavailable fallback;
// a real verdict is never overridden.
func (o *PhaseOrchestrator) PhaseCEvaluate(ctx context.Context, plan *model.Plan, results []model.StepResult) *model.EvaluationResult {
	var issues []model.ValidationIssue
	if o.deps.Validator != nil {
		issues = o.deps.Validator.Validate(plan, results)
	}

	var assessment *model.ConvergenceAssessment
	if o.deps.Convergence != nil {
		assessment = o.deps.Convergence.Assess(ctx, plan, results, issues)
	}

	allTerminal := plan.AllTerminal()
	cleanValidation := len(actionable(issues)) == 0

	eval := &model.EvaluationResult{
		ValidationIssues: issues,
		Assessment:       assessment,
	}

	switch {
	case assessment != nil && !convergence.IsFallback(assessment):
		eval.Converged = assessment.Converged
	case allTerminal && cleanValidation:
		eval.Converged = true
		eval.AutoConverged = true
		if assessment == nil {
			assessment = &model.ConvergenceAssessment{
				Converged:         true,
				ReasonCodes:       []string{"auto_converged_all_steps_terminal"},
				CompletenessScore: 1,
				CoherenceScore:    1,
				Consistency:       model.ConsistencyStatus{PlanAligned: true, StepAligned: true, AnswerAligned: true, MemoryAligned: true},
			}
			eval.Assessment = assessment
		}
	default:
		eval.Converged = false
	}

	if eval.Assessment == nil {
		eval.Assessment = &model.ConvergenceAssessment{
			Converged:   eval.Converged,
			ReasonCodes: []string{"engine_not_invoked"},
		}
	}

	eval.NeedsRefinement = !eval.Converged && (len(actionable(issues)) > 0 || hasFailures(results) || nonConvergedReasons(eval.Assessment))

	o.deps.Logger.Log(eventlog.EvaluationOutcome(o.corr, eval.Assessment, issues))
	return eval
}

func hasFailures(results []model.StepResult) bool {
	for _, res := range results {
		if res.Status == model.StepFailed {
			return true
		}
	}
	return false
}

func nonConvergedReasons(a *model.ConvergenceAssessment) bool {
	return a != nil && !a.Converged && len(a.ReasonCodes) > 0
}

// PhaseCRefine converts evaluation signals into a refined plan. Invoked
// only when needs_refinement held and auto-convergence did not. The global
// refinement limit error propagates; anything else degrades to no change.
func (o *PhaseOrchestrator) PhaseCRefine(ctx context.Context, plan *model.Plan, eval *model.EvaluationResult, budget *planner.Budget) ([]model.RefinementAction, *model.Plan, error) {
	if o.deps.Planner == nil {
		return nil, plan, nil
	}

	var reasonCodes []string
	if eval.Assessment != nil && !eval.Assessment.Converged {
		reasonCodes = eval.Assessment.ReasonCodes
	}
	var blocked []string
	for _, step := range plan.Steps {
		if step.Clarity == model.ClarityBlocked {
			blocked = append(blocked, step.StepID)
		}
	}

	actions, err := o.deps.Planner.RefinePlan(ctx, planner.RefineInput{
		Plan:            plan,
		Issues:          eval.ValidationIssues,
		ReasonCodes:     reasonCodes,
		BlockedSteps:    blocked,
		ExecutedStepIDs: plan.ExecutedStepIDs(),
	}, budget)
	if err != nil {
		if oe, ok := orcerr.AsError(err); ok && oe.Code == orcerr.CodeRefinementLimit {
			return nil, plan, err
		}
		o.log.Warn().Err(err).Msg("phase C refinement degraded to unchanged plan")
		o.deps.Logger.Log(eventlog.ErrorRecovery(o.corr, err.Error(), "keep_plan", "degraded"))
		return nil, plan, nil
	}
	if len(actions) == 0 {
		return nil, plan, nil
	}

	refined, err := planner.ApplyActions(plan, actions)
	if err != nil {
		o.log.Warn().Err(err).Msg("phase C apply actions failed, keeping plan")
		return nil, plan, nil
	}

	o.deps.Logger.Log(eventlog.RefinementOutcome(o.corr,
		fmt.Sprintf("%d steps", len(plan.Steps)),
		fmt.Sprintf("%d steps", len(refined.Steps)),
		len(actions),
		map[string]any{"reason_codes": reasonCodes},
	))
	return actions, refined, nil
}

// PhaseDAdaptiveDepth replaces the task profile from evaluation evidence
// and adjusts the remaining TTL bidirectionally. Failures absorb locally:
// the profile stays, the TTL is unchanged.
func (o *PhaseOrchestrator) PhaseDAdaptiveDepth(profile model.TaskProfile, eval *model.EvaluationResult, plan *model.Plan, ttlRemaining int) (model.TaskProfile, int, string) {
	updated := profile

	if eval != nil && eval.Assessment != nil && !eval.Assessment.Converged {
		a := eval.Assessment
		if a.CompletenessScore > 0 && a.CompletenessScore < 0.5 && updated.ReasoningDepth < 5 {
			updated.ReasoningDepth++
		}
		if a.CoherenceScore > 0 && a.CoherenceScore < 0.5 && updated.OutputBreadth < len(plan.Steps) {
			updated.OutputBreadth++
		}
		if len(plan.ReadySteps()) == 0 && updated.InformationSufficiency < 1 {
			// Everything ran and still no convergence: the task knows less
			// than the profile assumed.
			updated.InformationSufficiency = updated.InformationSufficiency / 2
		}
	}

	if updated == profile {
		return profile, ttlRemaining, "profile unchanged"
	}

	updated.ProfileVersion = profile.ProfileVersion + 1
	adjusted, reason := o.deps.TTL.Adjust(profile, updated, ttlRemaining)
	o.log.Info().
		Int("profile_version", updated.ProfileVersion).
		Int("ttl_before", ttlRemaining).
		Int("ttl_after", adjusted).
		Str("reason", reason).
		Msg("phase D adjusted budget")
	return updated, adjusted, reason
}
