// Package ttl implements the work-unit budget strategy: allocation from a
// task profile, adaptive adjustment at pass boundaries, and synthesis of a
// structured expiration response when the budget runs out.
package ttl

import (
	"fmt"
	"time"

	"github.com/lumeon/arbiter/internal/model"
)

// ExpirationKind distinguishes where in the loop the budget ran out.
type ExpirationKind string

const (
	ExpirePhaseBoundary ExpirationKind = "phase_boundary"
	ExpireMidPhase      ExpirationKind = "mid_phase"
)

// Strategy allocates and adjusts the TTL budget.
type Strategy struct {
	ceiling int
}

// NewStrategy builds a strategy bounded by the global ceiling.
func NewStrategy(ceiling int) *Strategy {
	if ceiling <= 0 {
		ceiling = 1
	}
	return &Strategy{ceiling: ceiling}
}

// Ceiling returns the global TTL ceiling.
func (s *Strategy) Ceiling() int { return s.ceiling }

// Allocate derives the initial TTL from the task profile, capped by the
// ceiling. Deeper reasoning, heavier tool usage, and wider output all raise
// the allocation; high information sufficiency lowers it.
func (s *Strategy) Allocate(profile model.TaskProfile) int {
	base := profile.ReasoningDepth * 3
	base += profile.ExpectedToolUsage
	base += profile.OutputBreadth
	discount := int(profile.InformationSufficiency * 4)
	allocated := base - discount
	if allocated < 1 {
		allocated = 1
	}
	if allocated > s.ceiling {
		allocated = s.ceiling
	}
	return allocated
}

// Adjust recomputes the budget when the profile is replaced at Phase D.
// A lowered allocation shrinks the remaining budget by the delta; a raised
// allocation never restores spent units, so the result is clamped to at
// most current. Observed ttl_remaining therefore never increases across
// pass records. The returned reason is recorded on the current
// ExecutionPass.
func (s *Strategy) Adjust(oldProfile, newProfile model.TaskProfile, current int) (int, string) {
	oldAlloc := s.Allocate(oldProfile)
	newAlloc := s.Allocate(newProfile)
	delta := newAlloc - oldAlloc
	adjusted := current + delta
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > current {
		adjusted = current
	}
	switch {
	case delta > 0:
		return adjusted, fmt.Sprintf("profile v%d raised allocation by %d (reasoning_depth=%d)", newProfile.ProfileVersion, delta, newProfile.ReasoningDepth)
	case delta < 0:
		return adjusted, fmt.Sprintf("profile v%d lowered allocation by %d (information_sufficiency=%.2f)", newProfile.ProfileVersion, -delta, newProfile.InformationSufficiency)
	default:
		return adjusted, fmt.Sprintf("profile v%d left allocation unchanged", newProfile.ProfileVersion)
	}
}

// ExpirationResponse is the degraded ExecutionHistory-shaped result built
// when the budget exhausts. All partial results are preserved for diagnosis.
type ExpirationResponse struct {
	Kind         ExpirationKind         `json:"kind"`
	Phase        model.Phase            `json:"phase"`
	ExecutionID  string                 `json:"execution_id"`
	TaskInput    string                 `json:"task_input"`
	LastPass     *model.ExecutionPass   `json:"last_pass,omitempty"`
	Passes       []*model.ExecutionPass `json:"passes"`
	PartialSteps []model.StepResult     `json:"partial_steps,omitempty"`
	Message      string                 `json:"message"`
}

// CreateExpirationResponse closes the open pass (both kinds must) and
// assembles the structured expiration result instead of crashing.
func (s *Strategy) CreateExpirationResponse(
	kind ExpirationKind,
	phase model.Phase,
	lastPass *model.ExecutionPass,
	allPasses []*model.ExecutionPass,
	partial []model.StepResult,
	executionID, taskInput string,
) *ExpirationResponse {
	if lastPass != nil && !lastPass.Closed() {
		lastPass.TTLRemaining = 0
		lastPass.Close(time.Now().UTC())
	}
	msg := fmt.Sprintf("ttl budget exhausted at %s during phase %s", kind, phase)
	return &ExpirationResponse{
		Kind:         kind,
		Phase:        phase,
		ExecutionID:  executionID,
		TaskInput:    taskInput,
		LastPass:     lastPass,
		Passes:       allPasses,
		PartialSteps: partial,
		Message:      msg,
	}
}
