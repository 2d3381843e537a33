package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lumeon/arbiter/internal/contract"
	"github.com/lumeon/arbiter/internal/eventlog"
	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/logging"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/lumeon/arbiter/internal/planner"
	"github.com/lumeon/arbiter/internal/ttl"
)

// EngineConfig bounds one run of the engine.
type EngineConfig struct {
	MaxPasses     int
	TTLCeiling    int
	PlannerLimits planner.Limits
}

func (c EngineConfig) normalized() EngineConfig {
	if c.MaxPasses <= 0 {
		c.MaxPasses = 50
	}
	if c.TTLCeiling <= 0 {
		c.TTLCeiling = 25
	}
	return c
}

// Engine drives a full run through the phase state machine. Phase E runs
// unconditionally at run end: convergence, TTL expiration, the pass
// ceiling, and hard errors all flow through answer synthesis.
type Engine struct {
	deps Deps
	cfg  EngineConfig
}

// NewEngine builds an engine over the shared collaborators.
func NewEngine(deps Deps, cfg EngineConfig) *Engine {
	cfg = cfg.normalized()
	if deps.TTL == nil {
		deps.TTL = ttl.NewStrategy(cfg.TTLCeiling)
	}
	if deps.Logger == nil {
		deps.Logger = eventlog.Nop{}
	}
	return &Engine{deps: deps, cfg: cfg}
}

// runState is the mutable loop state of one execution.
type runState struct {
	corr    string
	request string
	started time.Time

	profile model.TaskProfile
	plan    *model.Plan
	ttl     int
	alloc   int

	passes  []*model.ExecutionPass
	passNum int

	lastResults []model.StepResult

	status  model.RunStatus
	failure error
}

// Run executes the request end to end and returns the complete audit
// history. The returned error is non-nil only for contract violations and
// the global refinement limit; even then the history carries a degraded
// final answer.
func (e *Engine) Run(ctx context.Context, request string) (*model.ExecutionHistory, error) {
	return e.RunWithID(ctx, uuid.NewString(), request)
}

// RunWithID runs under a caller-chosen correlation id, letting callers
// create persistence records before execution starts.
func (e *Engine) RunWithID(ctx context.Context, correlationID, request string) (*model.ExecutionHistory, error) {
	st := &runState{
		corr:    correlationID,
		request: request,
		started: time.Now().UTC(),
		status:  model.RunInProgress,
	}
	runLog := logging.ForRun(st.corr)
	phases := NewPhaseOrchestrator(e.deps, runLog, st.corr)
	budget := planner.NewBudget(e.cfg.PlannerLimits)

	runLog.Info().Str("request", truncate(request, 120)).Msg("run started")

	e.profileAndPlan(ctx, phases, st, budget)
	if st.failure == nil {
		e.loop(ctx, phases, st, budget)
	}

	// Phase E always runs, whatever brought the loop down.
	answer := e.phaseE(ctx, phases, st)

	history := &model.ExecutionHistory{
		ExecutionID: st.corr,
		TaskInput:   request,
		Context:     model.ExecutionContext{CorrelationID: st.corr, StartedAt: st.started},
		Passes:      st.passes,
		FinalResult: answer,
		Status:      st.status,
		Statistics:  e.statistics(st, budget),
	}
	runLog.Info().
		Str("status", string(st.status)).
		Int("passes", len(st.passes)).
		Int("ttl_remaining", st.ttl).
		Msg("run finished")
	return history, st.failure
}

// profileAndPlan runs phases A and B, recording one pass each and
// enforcing the A→B and B→C contracts. Phase B refinement charges the
// run-scoped budget, so its actions count toward the global cap.
func (e *Engine) profileAndPlan(ctx context.Context, phases *PhaseOrchestrator, st *runState, budget *planner.Budget) {
	seed := fallbackPlan(st.request)

	passA := e.openPass(st, model.PhaseA, seed, e.cfg.TTLCeiling)
	st.profile, st.ttl = phases.PhaseA(ctx, st.request, e.cfg.TTLCeiling)
	st.alloc = st.ttl
	passA.TTLRemaining = st.ttl
	e.closePass(st, passA, "profiled")

	if err := (contract.AtoB{Profile: &st.profile, InitialPlan: seed, TTL: st.ttl}).Check(); err != nil {
		e.fail(st, err)
		return
	}

	passB := e.openPass(st, model.PhaseB, seed, st.ttl)
	st.plan = phases.PhaseB(ctx, st.request, seed, st.profile, budget)
	passB.PlanState = st.plan.Snapshot()
	e.closePass(st, passB, "planned")

	if err := (contract.BtoC{RefinedPlan: st.plan}).Check(); err != nil {
		e.fail(st, err)
	}
}

// loop is the C→D cycle. Each full cycle costs one additional TTL unit on
// top of the per-step charges, deducted at the Phase D boundary.
func (e *Engine) loop(ctx context.Context, phases *PhaseOrchestrator, st *runState, budget *planner.Budget) {
	for st.passNum < e.cfg.MaxPasses {
		if st.ttl <= 0 {
			e.expire(st, ttl.ExpirePhaseBoundary, model.PhaseC)
			return
		}

		pass := e.openPass(st, model.PhaseC, st.plan, st.ttl)
		batch := &BatchState{TTLRemaining: st.ttl}
		results, execErr := phases.PhaseCExecuteBatch(ctx, st.plan, batch)
		st.ttl = batch.TTLRemaining
		st.lastResults = append(st.lastResults, results...)
		pass.ExecutionResults = results
		pass.TTLRemaining = st.ttl

		if execErr != nil && orcerr.IsTTLExpired(execErr) {
			pass.EvaluationResults = phases.PhaseCEvaluate(ctx, st.plan, results)
			e.closePass(st, pass, "ttl_expired")
			e.expire(st, ttl.ExpireMidPhase, model.PhaseC)
			return
		}

		eval := phases.PhaseCEvaluate(ctx, st.plan, results)
		pass.EvaluationResults = eval

		if eval.NeedsRefinement && !eval.AutoConverged {
			actions, refined, err := phases.PhaseCRefine(ctx, st.plan, eval, budget)
			if err != nil {
				e.closePass(st, pass, "refinement_limit")
				e.fail(st, err)
				return
			}
			if len(actions) > 0 {
				st.plan = refined
				pass.RefinementChanges = actions
				pass.PlanState = refined.Snapshot()
			}
		}
		e.closePass(st, pass, "executed")

		if eval.Converged {
			st.status = model.RunConverged
			return
		}

		if err := (contract.CtoD{ExecutionResults: results, EvaluationResults: eval}).Check(); err != nil {
			e.fail(st, err)
			return
		}

		passD := e.openPass(st, model.PhaseD, st.plan, st.ttl)
		updated, adjusted, reason := phases.PhaseDAdaptiveDepth(st.profile, eval, st.plan, st.ttl)
		if err := (contract.DOut{UpdatedProfile: &updated}).Check(); err != nil {
			e.closePass(st, passD, "contract_violation")
			e.fail(st, err)
			return
		}
		st.profile = updated
		st.ttl = adjusted
		// One full C→D cycle costs a TTL unit beyond the step charges.
		st.ttl--
		if st.ttl < 0 {
			st.ttl = 0
		}
		passD.TTLRemaining = st.ttl
		passD.AdjustmentReason = reason
		e.closePass(st, passD, "adjusted")

		if err := (contract.DtoLoop{Profile: &st.profile, TTLRemaining: st.ttl}).Check(); err != nil {
			e.fail(st, err)
			return
		}

		if len(st.plan.ReadySteps()) == 0 {
			// Nothing left to run and no convergence; refinement produced
			// no new work. Stop rather than spin the loop dry.
			st.status = model.RunFailed
			return
		}
	}
	st.status = model.RunMaxPasses
}

const answerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "answer_text": { "type": "string" },
    "confidence": { "type": "number", "minimum": 0, "maximum": 1 },
    "used_step_ids": { "type": "array", "items": { "type": "string" } },
    "notes": { "type": "string" }
  },
  "required": ["answer_text", "confidence"]
}`

const answerSystemPrompt = `You synthesize the final answer from executed plan steps.
Use only the step outputs provided. If they are partial, say so in notes
and answer as far as the evidence allows. Output ONLY JSON matching the schema.`

// phaseE synthesizes the final answer. It runs for every terminal status
// and never returns nil; synthesis failure degrades to stitched step
// outputs rather than no answer.
func (e *Engine) phaseE(ctx context.Context, phases *PhaseOrchestrator, st *runState) *model.FinalAnswer {
	exhausted := st.status == model.RunExpired
	pass := e.openPass(st, model.PhaseE, planOrSeed(st), st.ttl)
	defer e.closePass(st, pass, "synthesized")

	answer := e.synthesize(ctx, phases, st)
	answer.TTLExhausted = exhausted
	if exhausted {
		if answer.Notes != "" {
			answer.Notes += "; "
		}
		answer.Notes += "budget exhausted before convergence, answer built from partial results"
	}
	if st.status == model.RunInProgress {
		st.status = model.RunConverged
	}
	return answer
}

func (e *Engine) synthesize(ctx context.Context, phases *PhaseOrchestrator, st *runState) *model.FinalAnswer {
	degraded := func(reason string, err error) *model.FinalAnswer {
		e.deps.Logger.Log(eventlog.ErrorRecovery(st.corr, fmt.Sprint(err), "stitch_step_outputs", "degraded"))
		return stitchAnswer(st, reason)
	}

	if e.deps.Client == nil {
		return degraded("no llm client", nil)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nExecuted steps:\n", st.request)
	for _, res := range st.lastResults {
		if res.Status == model.StepComplete {
			fmt.Fprintf(&b, "- [%s] %s\n", res.StepID, truncate(res.Output, 2000))
		} else if res.Error != "" {
			fmt.Fprintf(&b, "- [%s] FAILED: %s\n", res.StepID, res.Error)
		}
	}
	fmt.Fprintf(&b, "\nRun status: %s\n\nAnswer schema:\n%s", st.status, answerSchema)

	resp, err := e.deps.Client.Generate(ctx, llm.Request{
		Prompt:       b.String(),
		SystemPrompt: answerSystemPrompt,
		MaxTokens:    4096,
		Temperature:  0.3,
	})
	if err != nil {
		return degraded("synthesis generation failed", err)
	}

	raw, err := phases.repair(ctx, resp.Text, answerSchema)
	if err != nil {
		return degraded("synthesis output unusable", err)
	}

	var answer model.FinalAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return degraded("synthesis parse failed", err)
	}
	if answer.AnswerText == "" {
		return degraded("synthesis produced empty answer", nil)
	}
	if len(answer.UsedStepIDs) == 0 {
		answer.UsedStepIDs = completedStepIDs(st.lastResults)
	}
	return &answer
}

// stitchAnswer is the degraded synthesis path: concatenate completed step
// outputs in execution order.
func stitchAnswer(st *runState, reason string) *model.FinalAnswer {
	var parts []string
	for _, res := range st.lastResults {
		if res.Status == model.StepComplete && res.Output != "" {
			parts = append(parts, res.Output)
		}
	}
	text := strings.Join(parts, "\n\n")
	if text == "" {
		text = "No usable results were produced for this request."
	}
	return &model.FinalAnswer{
		AnswerText:  text,
		Confidence:  0.1,
		UsedStepIDs: completedStepIDs(st.lastResults),
		Notes:       "degraded synthesis: " + reason,
		Metadata:    map[string]string{"degraded": "true"},
	}
}

func completedStepIDs(results []model.StepResult) []string {
	var ids []string
	for _, res := range results {
		if res.Status == model.StepComplete {
			ids = append(ids, res.StepID)
		}
	}
	return ids
}

func (e *Engine) openPass(st *runState, phase model.Phase, plan *model.Plan, ttlRemaining int) *model.ExecutionPass {
	pass := &model.ExecutionPass{
		PassNumber:   st.passNum,
		Phase:        phase,
		PlanState:    plan.Snapshot(),
		TTLRemaining: ttlRemaining,
		Timing:       model.PassTiming{Start: time.Now().UTC()},
	}
	st.passNum++
	if err := contract.ValidatePassBefore(pass); err != nil {
		e.fail(st, err)
	}
	e.deps.Logger.Log(eventlog.PhaseEntry(st.corr, string(phase), pass.PassNumber))
	return pass
}

func (e *Engine) closePass(st *runState, pass *model.ExecutionPass, outcome string) {
	pass.Close(time.Now().UTC())
	if err := contract.ValidatePassAfter(pass); err != nil {
		e.fail(st, err)
	}
	st.passes = append(st.passes, pass)
	e.deps.Logger.Log(eventlog.PhaseExit(st.corr, string(pass.Phase), pass.PassNumber, pass.Timing.Duration, outcome))
}

func (e *Engine) expire(st *runState, kind ttl.ExpirationKind, phase model.Phase) {
	st.status = model.RunExpired
	var last *model.ExecutionPass
	if len(st.passes) > 0 {
		last = st.passes[len(st.passes)-1]
	}
	resp := e.deps.TTL.CreateExpirationResponse(kind, phase, last, st.passes, st.lastResults, st.corr, st.request)
	e.deps.Logger.Log(eventlog.Error(st.corr, orcerr.CodeTTLExpired, string(orcerr.SeverityWarning), resp.Message, string(orcerr.ComponentTTL), map[string]string{
		"kind":  string(kind),
		"phase": string(phase),
	}))
}

func (e *Engine) fail(st *runState, err error) {
	if st.failure == nil {
		st.failure = err
	}
	st.status = model.RunFailed
	e.deps.Logger.Log(eventlog.Error(st.corr, orcerr.CodeContractViolation, string(orcerr.SeverityCritical), err.Error(), string(orcerr.ComponentOrchestrator), nil))
}

func (e *Engine) statistics(st *runState, budget *planner.Budget) model.RunStatistics {
	stats := model.RunStatistics{
		Passes:          len(st.passes),
		Refinements:     budget.GlobalCount(),
		TTLAllocated:    st.alloc,
		TTLRemaining:    st.ttl,
		WallTime:        time.Since(st.started),
		ProfileVersions: st.profile.ProfileVersion,
	}
	for _, res := range st.lastResults {
		switch res.Status {
		case model.StepComplete:
			stats.StepsExecuted++
		case model.StepFailed:
			stats.StepsExecuted++
			stats.StepsFailed++
		}
	}
	return stats
}

func planOrSeed(st *runState) *model.Plan {
	if st.plan != nil {
		return st.plan
	}
	return fallbackPlan(st.request)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
