package model

import (
	"fmt"
	"time"
)

// Phase identifies one stage of the orchestration state machine.
type Phase string

const (
	PhaseA Phase = "A" // task profiling
	PhaseB Phase = "B" // initial planning
	PhaseC Phase = "C" // execute / evaluate / refine
	PhaseD Phase = "D" // adaptive budget adjustment
	PhaseE Phase = "E" // answer synthesis
)

// Valid reports whether the phase is one of A-E.
func (p Phase) Valid() bool {
	switch p {
	case PhaseA, PhaseB, PhaseC, PhaseD, PhaseE:
		return true
	default:
		return false
	}
}

// TaskProfile captures the shape of a task that drives TTL allocation.
// Created in Phase A; Phase D may replace it with a new version.
type TaskProfile struct {
	ReasoningDepth         int     `json:"reasoning_depth"`         // 1..5
	InformationSufficiency float64 `json:"information_sufficiency"` // 0..1
	ExpectedToolUsage      int     `json:"expected_tool_usage"`
	OutputBreadth          int     `json:"output_breadth"`
	ConfidenceRequirement  float64 `json:"confidence_requirement"`
	ProfileVersion         int     `json:"profile_version"`
}

// DefaultProfile is the conservative fallback used when profiling fails.
func DefaultProfile() TaskProfile {
	return TaskProfile{
		ReasoningDepth:         3,
		InformationSufficiency: 0.5,
		ExpectedToolUsage:      2,
		OutputBreadth:          1,
		ConfidenceRequirement:  0.8,
		ProfileVersion:         1,
	}
}

// Validate clamps nothing; it rejects out-of-range profiles outright.
func (p TaskProfile) Validate() error {
	if p.ReasoningDepth < 1 || p.ReasoningDepth > 5 {
		return fmt.Errorf("reasoning_depth %d outside 1..5", p.ReasoningDepth)
	}
	if p.InformationSufficiency < 0 || p.InformationSufficiency > 1 {
		return fmt.Errorf("information_sufficiency %.2f outside 0..1", p.InformationSufficiency)
	}
	if p.ExpectedToolUsage < 0 {
		return fmt.Errorf("expected_tool_usage %d negative", p.ExpectedToolUsage)
	}
	return nil
}

// ExecutionContext is the immutable identity of one run. Every phase, pass,
// and log record of the run carries the same values.
type ExecutionContext struct {
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"execution_start_timestamp"`
}

// StepResult records the outcome of executing one plan step.
type StepResult struct {
	StepID  string       `json:"step_id"`
	Status  StepStatus   `json:"status"`
	Output  string       `json:"output,omitempty"`
	Clarity ClarityState `json:"clarity_state,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// EvaluationResult is the Phase-C evaluation payload.
type EvaluationResult struct {
	Converged        bool                   `json:"converged"`
	NeedsRefinement  bool                   `json:"needs_refinement"`
	ValidationIssues []ValidationIssue      `json:"validation_issues,omitempty"`
	Assessment       *ConvergenceAssessment `json:"convergence_assessment"`
	AutoConverged    bool                   `json:"auto_converged,omitempty"`
}

// IssueSeverity ranks validation findings.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityCritical IssueSeverity = "critical"
)

// ValidationIssue is one finding from semantic plan/result validation.
type ValidationIssue struct {
	Code     string        `json:"code"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
	StepID   string        `json:"step_id,omitempty"`
}

// Informational reports whether the issue should not block convergence.
func (v ValidationIssue) Informational() bool {
	return v.Severity == SeverityInfo
}

// PassTiming records entry/exit instants for a pass.
type PassTiming struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// ExecutionPass is the frozen record of one phase-boundary transition.
// Passes are append-only; once Closed the record must not change.
type ExecutionPass struct {
	PassNumber        int                `json:"pass_number"`
	Phase             Phase              `json:"phase"`
	PlanState         *Plan              `json:"plan_state"`
	TTLRemaining      int                `json:"ttl_remaining"`
	ExecutionResults  []StepResult       `json:"execution_results,omitempty"`
	EvaluationResults *EvaluationResult  `json:"evaluation_results,omitempty"`
	RefinementChanges []RefinementAction `json:"refinement_changes,omitempty"`
	AdjustmentReason  string             `json:"adjustment_reason,omitempty"`
	Timing            PassTiming         `json:"timing"`

	closed bool
}

// Close freezes the pass, stamping end time and duration.
func (p *ExecutionPass) Close(at time.Time) {
	if p.closed {
		return
	}
	p.Timing.End = at
	p.Timing.Duration = at.Sub(p.Timing.Start)
	if p.Timing.Duration < 0 {
		p.Timing.Duration = 0
	}
	p.closed = true
}

// Closed reports whether the pass record is frozen.
func (p *ExecutionPass) Closed() bool { return p.closed }

// RunStatus is the terminal disposition of an execution.
type RunStatus string

const (
	RunConverged  RunStatus = "converged"
	RunExpired    RunStatus = "ttl_expired"
	RunMaxPasses  RunStatus = "max_passes_reached"
	RunFailed     RunStatus = "failed"
	RunInProgress RunStatus = "running"
)

// FinalAnswer is always produced at run end, converged or degraded.
type FinalAnswer struct {
	AnswerText   string            `json:"answer_text"`
	Confidence   float64           `json:"confidence,omitempty"`
	UsedStepIDs  []string          `json:"used_step_ids,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	TTLExhausted bool              `json:"ttl_exhausted"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RunStatistics aggregates per-run counters for the history record.
type RunStatistics struct {
	Passes          int           `json:"passes"`
	StepsExecuted   int           `json:"steps_executed"`
	StepsFailed     int           `json:"steps_failed"`
	Refinements     int           `json:"refinements"`
	TTLAllocated    int           `json:"ttl_allocated"`
	TTLRemaining    int           `json:"ttl_remaining"`
	WallTime        time.Duration `json:"wall_time"`
	ProfileVersions int           `json:"profile_versions"`
}

// ExecutionHistory is the complete audit record of one execution, produced
// at run end including early termination.
type ExecutionHistory struct {
	ExecutionID string           `json:"execution_id"`
	TaskInput   string           `json:"task_input"`
	Context     ExecutionContext `json:"context"`
	Passes      []*ExecutionPass `json:"passes"`
	FinalResult *FinalAnswer     `json:"final_result"`
	Status      RunStatus        `json:"status"`
	Statistics  RunStatistics    `json:"overall_statistics"`
}
