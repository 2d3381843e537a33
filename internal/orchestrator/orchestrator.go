// Package orchestrator implements the multi-phase orchestration engine: the
// phase state machine (task profiling, planning, execute/evaluate/refine,
// adaptive budget adjustment, answer synthesis) and the pass loop driving it.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/convergence"
	"github.com/lumeon/arbiter/internal/eventlog"
	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/memory"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/planner"
	"github.com/lumeon/arbiter/internal/supervisor"
	"github.com/lumeon/arbiter/internal/tool"
	"github.com/lumeon/arbiter/internal/ttl"
	"github.com/rs/zerolog"
)

// Validator performs semantic validation of a plan against its results.
// Optional collaborator; absence disables semantic checks.
type Validator interface {
	Validate(plan *model.Plan, results []model.StepResult) []model.ValidationIssue
}

// StepExecutor runs one plan step. Optional; the default executor drives
// the LLM and the tool registry.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step *model.PlanStep) (output string, clarity model.ClarityState, err error)
}

// Deps collects the orchestrator's collaborators. Planner, Validator,
// Convergence, and Logger are optional; each call site degrades per phase
// rules when one is absent.
type Deps struct {
	Client      llm.Client
	Planner     *planner.Planner
	Validator   Validator
	Convergence *convergence.Engine
	Supervisor  *supervisor.Supervisor
	Registry    *tool.Registry
	Memory      memory.Store
	Executor    StepExecutor
	TTL         *ttl.Strategy
	Logger      eventlog.Logger
}

// PhaseOrchestrator implements phases A through E. Each operation returns
// its payload plus an error that callers treat as a degradation signal, not
// an abort, except where noted.
type PhaseOrchestrator struct {
	deps Deps
	log  zerolog.Logger
	corr string
}

// NewPhaseOrchestrator binds the collaborators to one run's identity.
func NewPhaseOrchestrator(deps Deps, runLog zerolog.Logger, correlationID string) *PhaseOrchestrator {
	if deps.Logger == nil {
		deps.Logger = eventlog.Nop{}
	}
	if deps.TTL == nil {
		deps.TTL = ttl.NewStrategy(1)
	}
	if deps.Executor == nil {
		deps.Executor = &llmExecutor{
			client:     deps.Client,
			supervisor: deps.Supervisor,
			registry:   deps.Registry,
			memory:     deps.Memory,
		}
	}
	return &PhaseOrchestrator{deps: deps, log: runLog, corr: correlationID}
}

const profileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "reasoning_depth": { "type": "integer", "minimum": 1, "maximum": 5 },
    "information_sufficiency": { "type": "number", "minimum": 0, "maximum": 1 },
    "expected_tool_usage": { "type": "integer", "minimum": 0 },
    "output_breadth": { "type": "integer", "minimum": 0 },
    "confidence_requirement": { "type": "number", "minimum": 0, "maximum": 1 }
  },
  "required": ["reasoning_depth", "information_sufficiency", "expected_tool_usage", "output_breadth", "confidence_requirement"]
}`

const profileSystemPrompt = `You profile a task before planning. Judge, strictly from the request text:
- reasoning_depth: 1 (lookup) to 5 (deep multi-stage reasoning)
- information_sufficiency: 0 (needs much external information) to 1 (self-contained)
- expected_tool_usage: estimated number of tool invocations
- output_breadth: how many distinct artifacts the answer needs
- confidence_requirement: how certain the answer must be, 0 to 1
Output ONLY JSON matching the provided schema.`

// PhaseA profiles the task and allocates the initial TTL. On any failure it
// falls back to the default profile with the global TTL unmodified rather
// than aborting.
func (o *PhaseOrchestrator) PhaseA(ctx context.Context, request string, globalTTL int) (model.TaskProfile, int) {
	fallback := func(reason string, err error) (model.TaskProfile, int) {
		o.log.Warn().Err(err).Str("reason", reason).Msg("phase A degraded to default profile")
		o.deps.Logger.Log(eventlog.ErrorRecovery(o.corr, fmt.Sprint(err), "default_profile", "degraded"))
		return model.DefaultProfile(), globalTTL
	}

	if o.deps.Client == nil {
		return fallback("no llm client", nil)
	}

	prompt := fmt.Sprintf("Request:\n%s\n\nProfile schema:\n%s", request, profileSchema)
	resp, err := o.deps.Client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: profileSystemPrompt,
		MaxTokens:    512,
		Temperature:  0,
	})
	if err != nil {
		return fallback("profile generation failed", err)
	}

	raw, err := o.repair(ctx, resp.Text, profileSchema)
	if err != nil {
		return fallback("profile output unusable", err)
	}

	var profile model.TaskProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return fallback("profile parse failed", err)
	}
	profile.ProfileVersion = 1
	if err := profile.Validate(); err != nil {
		return fallback("profile out of range", err)
	}

	allocated := o.deps.TTL.Allocate(profile)
	o.log.Info().
		Int("reasoning_depth", profile.ReasoningDepth).
		Int("allocated_ttl", allocated).
		Msg("phase A profiled task")
	return profile, allocated
}

// PhaseB produces the refined plan. It regenerates via the planner when one
// is available, semantically validates, and applies refinement on issues.
// Any failure degrades to the input plan.
func (o *PhaseOrchestrator) PhaseB(ctx context.Context, request string, plan *model.Plan, profile model.TaskProfile, budget *planner.Budget) *model.Plan {
	degrade := func(reason string, err error) *model.Plan {
		o.log.Warn().Err(err).Str("reason", reason).Msg("phase B degraded to input plan")
		o.deps.Logger.Log(eventlog.ErrorRecovery(o.corr, fmt.Sprint(err), "keep_input_plan", "degraded"))
		if plan != nil {
			return plan
		}
		return fallbackPlan(request)
	}

	if o.deps.Planner == nil {
		return degrade("no planner", nil)
	}

	generated, err := o.deps.Planner.GeneratePlan(ctx, request, profile, o.deps.Registry)
	if err != nil {
		return degrade("plan generation failed", err)
	}

	if o.deps.Validator != nil {
		issues := o.deps.Validator.Validate(generated, nil)
		if len(actionable(issues)) > 0 {
			actions, err := o.deps.Planner.RefinePlan(ctx, planner.RefineInput{
				Plan:   generated,
				Issues: issues,
			}, budget)
			if err != nil {
				o.log.Warn().Err(err).Msg("phase B refinement skipped")
			} else if len(actions) > 0 {
				refined, err := planner.ApplyActions(generated, actions)
				if err == nil {
					generated = refined
				}
			}
		}
	}

	if err := generated.Validate(); err != nil {
		return degrade("generated plan invalid", err)
	}
	o.log.Info().Int("steps", len(generated.Steps)).Msg("phase B produced plan")
	return generated
}

// fallbackPlan is the single-step plan used when no planner output exists.
func fallbackPlan(request string) *model.Plan {
	return model.NewPlan(request, []*model.PlanStep{{
		StepID:      "step-1",
		Description: "Answer the request directly: " + request,
		Status:      model.StepPending,
		Agent:       "llm",
	}})
}

func actionable(issues []model.ValidationIssue) []model.ValidationIssue {
	out := make([]model.ValidationIssue, 0, len(issues))
	for _, issue := range issues {
		if !issue.Informational() {
			out = append(out, issue)
		}
	}
	return out
}

func (o *PhaseOrchestrator) repair(ctx context.Context, text, schema string) (json.RawMessage, error) {
	if o.deps.Supervisor != nil {
		return o.deps.Supervisor.Repair(ctx, text, schema)
	}
	raw := []byte(strings.TrimSpace(text))
	var probe any
	if json.Unmarshal(raw, &probe) == nil {
		return json.RawMessage(raw), nil
	}
	extracted, ok := supervisor.ExtractJSON(raw)
	if !ok || json.Unmarshal(extracted, &probe) != nil {
		return nil, fmt.Errorf("output is not valid JSON")
	}
	return json.RawMessage(extracted), nil
}
