// Package convergence decides whether execution results constitute a
// complete, coherent, consistent solution, via LLM judgment bounded by
// numeric thresholds.
package convergence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/supervisor"
	"github.com/rs/zerolog/log"
)

// Default thresholds.
const (
	DefaultCompleteness = 0.95
	DefaultCoherence    = 0.90
)

// Reason codes emitted on non-score failures.
const (
	ReasonConsistencyConflict = "consistency_conflict"
	ReasonLLMFailed           = "llm_assessment_failed"
	ReasonUnexpectedError     = "unexpected_error"
	ReasonAllCriteriaMet      = "all_criteria_met"
)

// metadataFallback marks assessments produced without a real LLM verdict.
// The orchestrator's auto-convergence shortcut may only apply over these.
const metadataFallback = "fallback"

// Thresholds bound the engine's judgment.
type Thresholds struct {
	Completeness float64
	Coherence    float64
}

// Engine scores results for completeness, coherence, and consistency.
type Engine struct {
	client     llm.Client
	supervisor *supervisor.Supervisor
	thresholds Thresholds
}

// New constructs an engine. Zero-valued thresholds get defaults.
func New(client llm.Client, sup *supervisor.Supervisor, thresholds Thresholds) *Engine {
	if thresholds.Completeness <= 0 {
		thresholds.Completeness = DefaultCompleteness
	}
	if thresholds.Coherence <= 0 {
		thresholds.Coherence = DefaultCoherence
	}
	return &Engine{client: client, supervisor: sup, thresholds: thresholds}
}

// verdict is the parsed LLM judgment.
type verdict struct {
	CompletenessScore float64                 `json:"completeness_score"`
	CoherenceScore    float64                 `json:"coherence_score"`
	Consistency       model.ConsistencyStatus `json:"consistency_status"`
	DetectedIssues    []string                `json:"detected_issues"`
}

const verdictSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "completeness_score": { "type": "number", "minimum": 0, "maximum": 1 },
    "coherence_score": { "type": "number", "minimum": 0, "maximum": 1 },
    "consistency_status": {
      "type": "object",
      "properties": {
        "plan_aligned": { "type": "boolean" },
        "step_aligned": { "type": "boolean" },
        "answer_aligned": { "type": "boolean" },
        "memory_aligned": { "type": "boolean" }
      },
      "required": ["plan_aligned", "step_aligned", "answer_aligned", "memory_aligned"]
    },
    "detected_issues": { "type": "array", "items": { "type": "string" } }
  },
  "required": ["completeness_score", "coherence_score", "consistency_status"]
}`

// Assess judges the current results. It never propagates LLM or repair
// failures; those yield a conservative non-converged assessment.
func (e *Engine) Assess(ctx context.Context, plan *model.Plan, results []model.StepResult, issues []model.ValidationIssue) *model.ConvergenceAssessment {
	if e.client == nil {
		return fallbackAssessment(ReasonLLMFailed, "no llm client configured")
	}

	prompt, err := buildPrompt(plan, results, issues)
	if err != nil {
		return fallbackAssessment(ReasonUnexpectedError, err.Error())
	}

	resp, err := e.client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: assessmentSystemPrompt,
		MaxTokens:    2048,
		Temperature:  0,
	})
	if err != nil {
		log.Warn().Err(err).Msg("convergence: llm assessment failed")
		return fallbackAssessment(ReasonLLMFailed, err.Error())
	}

	raw, err := e.parseVerdict(ctx, resp.Text)
	if err != nil {
		log.Warn().Err(err).Msg("convergence: verdict repair exhausted")
		return fallbackAssessment(ReasonLLMFailed, err.Error())
	}

	var v verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallbackAssessment(ReasonUnexpectedError, err.Error())
	}

	return e.Score(v.CompletenessScore, v.CoherenceScore, v.Consistency, v.DetectedIssues)
}

// Score applies the threshold rules to already-obtained scores. Exposed
// separately so the decision logic is testable without a transport.
func (e *Engine) Score(completeness, coherence float64, consistency model.ConsistencyStatus, detected []string) *model.ConvergenceAssessment {
	completenessMet := completeness >= e.thresholds.Completeness
	coherenceMet := coherence >= e.thresholds.Coherence
	consistencyMet := consistency.All()

	assessment := &model.ConvergenceAssessment{
		CompletenessScore: completeness,
		CoherenceScore:    coherence,
		Consistency:       consistency,
		DetectedIssues:    detected,
	}

	var reasons []string
	if !completenessMet {
		reasons = append(reasons, belowThreshold("completeness", completeness, e.thresholds.Completeness))
	}
	if !coherenceMet {
		reasons = append(reasons, belowThreshold("coherence", coherence, e.thresholds.Coherence))
	}
	if !consistencyMet {
		if completenessMet && coherenceMet {
			// Completeness and coherence alone never outvote a consistency failure.
			reasons = append(reasons, ReasonConsistencyConflict)
		} else {
			reasons = append(reasons, "consistency_flags_not_aligned")
		}
	}

	assessment.Converged = completenessMet && coherenceMet && consistencyMet
	if assessment.Converged {
		reasons = []string{ReasonAllCriteriaMet}
	}
	assessment.ReasonCodes = reasons
	return assessment
}

// IsFallback reports whether the assessment came from the engine's
// "not available" path rather than a real verdict.
func IsFallback(a *model.ConvergenceAssessment) bool {
	return a != nil && a.Metadata[metadataFallback] == "true"
}

func (e *Engine) parseVerdict(ctx context.Context, text string) (json.RawMessage, error) {
	if e.supervisor != nil {
		return e.supervisor.Repair(ctx, text, verdictSchema)
	}
	var probe verdict
	raw := []byte(text)
	if err := json.Unmarshal(raw, &probe); err != nil {
		extracted, ok := supervisor.ExtractJSON(raw)
		if !ok || json.Unmarshal(extracted, &probe) != nil {
			return nil, fmt.Errorf("verdict is not valid JSON")
		}
		raw = extracted
	}
	return json.RawMessage(raw), nil
}

func belowThreshold(criterion string, actual, threshold float64) string {
	return fmt.Sprintf("%s_below_threshold_%.2f_<_%.2f", criterion, actual, threshold)
}

func fallbackAssessment(code, detail string) *model.ConvergenceAssessment {
	return &model.ConvergenceAssessment{
		Converged:   false,
		ReasonCodes: []string{code},
		Consistency: model.ConsistencyStatus{},
		Metadata: map[string]string{
			metadataFallback: "true",
			"detail":         detail,
		},
	}
}

const assessmentSystemPrompt = `You judge whether a multi-step execution fully solved its goal.
Score strictly. Output ONLY JSON matching the provided schema:
- completeness_score: fraction of the goal the results actually cover
- coherence_score: how well step outputs connect into one answer
- consistency_status: four alignment booleans (plan, step, answer, memory)
- detected_issues: concrete problems you found`

func buildPrompt(plan *model.Plan, results []model.StepResult, issues []model.ValidationIssue) (string, error) {
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	resultsJSON, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	issuesJSON, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal validation report: %w", err)
	}

	var b strings.Builder
	b.WriteString("Judge the execution below.\n\nSchema for your verdict:\n")
	b.WriteString(verdictSchema)
	b.WriteString("\n\nPlan:\n")
	b.Write(planJSON)
	b.WriteString("\n\nExecution results:\n")
	b.Write(resultsJSON)
	b.WriteString("\n\nValidation report:\n")
	b.Write(issuesJSON)
	return b.String(), nil
}
