// Package planner implements LLM-backed plan generation, delta-style plan
// refinement with bounded budgets, and subplan decomposition.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/lumeon/arbiter/internal/supervisor"
	"github.com/lumeon/arbiter/internal/tool"
)

// Default refinement limits.
const (
	DefaultFragmentCap     = 3
	DefaultGlobalCap       = 10
	DefaultMaxSubplanDepth = 5
)

// Limits bound plan refinement and decomposition.
type Limits struct {
	FragmentCap     int
	GlobalCap       int
	MaxSubplanDepth int
}

func (l Limits) normalized() Limits {
	if l.FragmentCap <= 0 {
		l.FragmentCap = DefaultFragmentCap
	}
	if l.GlobalCap <= 0 {
		l.GlobalCap = DefaultGlobalCap
	}
	if l.MaxSubplanDepth <= 0 {
		l.MaxSubplanDepth = DefaultMaxSubplanDepth
	}
	return l
}

// Budget tracks refinement consumption across one run.
type Budget struct {
	limits      Limits
	global      int
	perFragment map[string]int
	intervened  map[string]bool
}

// NewBudget builds a fresh per-run refinement budget.
func NewBudget(limits Limits) *Budget {
	return &Budget{
		limits:      limits.normalized(),
		perFragment: make(map[string]int),
		intervened:  make(map[string]bool),
	}
}

// FragmentExhausted reports whether the fragment hit its cap.
func (b *Budget) FragmentExhausted(fragment string) bool {
	return b.perFragment[fragment] >= b.limits.FragmentCap
}

// RequiresIntervention lists fragments skipped at their cap.
func (b *Budget) RequiresIntervention() []string {
	out := make([]string, 0, len(b.intervened))
	for f := range b.intervened {
		out = append(out, f)
	}
	return out
}

// GlobalCount returns refinement actions admitted so far.
func (b *Budget) GlobalCount() int { return b.global }

// admit charges one action against both caps. Exceeding the global cap is a
// hard limit error; the fragment cap was checked before requesting deltas.
func (b *Budget) admit(fragment string) error {
	if b.global >= b.limits.GlobalCap {
		return orcerr.New(orcerr.CodeRefinementLimit, orcerr.ComponentRefinement, orcerr.SeverityCritical,
			fmt.Sprintf("global refinement limit %d exceeded", b.limits.GlobalCap)).
			WithContext("fragment", fragment)
	}
	b.global++
	b.perFragment[fragment]++
	return nil
}

// Planner generates and refines plans through the LLM.
type Planner struct {
	client     llm.Client
	supervisor *supervisor.Supervisor
	limits     Limits
}

// New constructs a planner. Zero limits select defaults.
func New(client llm.Client, sup *supervisor.Supervisor, limits Limits) *Planner {
	return &Planner{client: client, supervisor: sup, limits: limits.normalized()}
}

// Limits returns the planner's normalized limits.
func (p *Planner) Limits() Limits { return p.limits }

// generatedStep is the wire form of a planned step.
type generatedStep struct {
	StepID      string `json:"step_id"`
	Description string `json:"description"`
	Tool        string `json:"tool,omitempty"`
	Agent       string `json:"agent,omitempty"`
}

type generatedPlan struct {
	Goal  string          `json:"goal"`
	Steps []generatedStep `json:"steps"`
}

const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "goal": { "type": "string", "minLength": 1 },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "step_id": { "type": "string", "minLength": 1 },
          "description": { "type": "string", "minLength": 1 },
          "tool": { "type": "string" },
          "agent": { "type": "string" }
        },
        "required": ["step_id", "description"]
      }
    }
  },
  "required": ["goal", "steps"]
}`

// GeneratePlan asks the LLM for an initial plan over the tool catalogue.
func (p *Planner) GeneratePlan(ctx context.Context, task string, profile model.TaskProfile, registry *tool.Registry) (*model.Plan, error) {
	if p.client == nil {
		return nil, orcerr.New(orcerr.CodePlanInvalid, orcerr.ComponentPlan, orcerr.SeverityError, "no llm client configured")
	}

	prompt, err := buildGeneratePrompt(task, profile, registry)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: planSystemPrompt,
		MaxTokens:    4096,
		Temperature:  0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	raw, err := p.repair(ctx, resp.Text, planSchema)
	if err != nil {
		return nil, fmt.Errorf("plan output unusable: %w", err)
	}

	var gen generatedPlan
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("parse plan output: %w", err)
	}

	steps := make([]*model.PlanStep, 0, len(gen.Steps))
	for _, g := range gen.Steps {
		agent := g.Agent
		if agent == "" {
			agent = "llm"
		}
		steps = append(steps, &model.PlanStep{
			StepID:      g.StepID,
			Description: g.Description,
			Status:      model.StepPending,
			Tool:        g.Tool,
			Agent:       agent,
			// handoff fields start cleared; the executor fills them
		})
	}
	goal := gen.Goal
	if strings.TrimSpace(goal) == "" {
		goal = task
	}
	plan := model.NewPlan(goal, steps)
	if err := plan.Validate(); err != nil {
		return nil, orcerr.Wrap(err, orcerr.CodePlanInvalid, orcerr.ComponentPlan, orcerr.SeverityError, "generated plan invalid")
	}
	return plan, nil
}

const planSystemPrompt = `You are a task planner. Decompose the request into ordered executable steps.
Rules:
- Output ONLY valid JSON matching the provided schema.
- Each step does exactly one thing and names a tool from the catalogue when one applies.
- Give steps short stable ids like "step-1", "step-2".
- Prefer the fewest steps that fully cover the goal.`

func buildGeneratePrompt(task string, profile model.TaskProfile, registry *tool.Registry) (string, error) {
	var catalogue []tool.Descriptor
	if registry != nil {
		catalogue = registry.ExportForLLM()
	}
	catalogueJSON, err := json.MarshalIndent(catalogue, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool catalogue: %w", err)
	}

	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(task)
	b.WriteString("\n\nPlan schema:\n")
	b.WriteString(planSchema)
	b.WriteString("\n\nAvailable tools:\n")
	b.Write(catalogueJSON)
	fmt.Fprintf(&b, "\n\nProfile hints: reasoning_depth=%d expected_tool_usage=%d output_breadth=%d confidence_requirement=%.2f\n",
		profile.ReasoningDepth, profile.ExpectedToolUsage, profile.OutputBreadth, profile.ConfidenceRequirement)
	return b.String(), nil
}

func (p *Planner) repair(ctx context.Context, text, schema string) (json.RawMessage, error) {
	if p.supervisor != nil {
		return p.supervisor.Repair(ctx, text, schema)
	}
	raw := []byte(text)
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

// CreateSubplan decomposes one step into a nested plan. Depth counts from 1
// at the root plan; reaching the boundary raises a nesting-depth error.
func (p *Planner) CreateSubplan(ctx context.Context, parentStepID, description string, depth int) (*model.Plan, error) {
	if depth >= p.limits.MaxSubplanDepth {
		return nil, orcerr.New(orcerr.CodeNestingDepth, orcerr.ComponentPlan, orcerr.SeverityError,
			fmt.Sprintf("subplan nesting depth %d reaches limit %d", depth, p.limits.MaxSubplanDepth)).
			WithContext("parent_step_id", parentStepID)
	}
	sub, err := p.GeneratePlan(ctx, description, model.DefaultProfile(), nil)
	if err != nil {
		return nil, fmt.Errorf("subplan for %s: %w", parentStepID, err)
	}
	// Namespace subplan step ids under their parent.
	for _, step := range sub.Steps {
		step.StepID = fmt.Sprintf("%s/%s", parentStepID, step.StepID)
	}
	sub.Renumber()
	return sub, nil
}
