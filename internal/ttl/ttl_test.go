package ttl

import (
	"testing"
	"time"

	"github.com/lumeon/arbiter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profileWith(depth int, sufficiency float64, tools, breadth int) model.TaskProfile {
	return model.TaskProfile{
		ReasoningDepth:         depth,
		InformationSufficiency: sufficiency,
		ExpectedToolUsage:      tools,
		OutputBreadth:          breadth,
		ConfidenceRequirement:  0.8,
		ProfileVersion:         1,
	}
}

func TestAllocateScalesWithProfile(t *testing.T) {
	t.Parallel()

	s := NewStrategy(100)

	shallow := s.Allocate(profileWith(1, 0.5, 0, 1))
	deep := s.Allocate(profileWith(5, 0.5, 0, 1))
	assert.Greater(t, deep, shallow, "deeper reasoning must allocate more")

	selfContained := s.Allocate(profileWith(3, 1.0, 2, 1))
	starved := s.Allocate(profileWith(3, 0.0, 2, 1))
	assert.Greater(t, starved, selfContained, "low sufficiency must allocate more")

	toolHeavy := s.Allocate(profileWith(3, 0.5, 6, 1))
	toolLight := s.Allocate(profileWith(3, 0.5, 0, 1))
	assert.Greater(t, toolHeavy, toolLight)
}

func TestAllocateClamps(t *testing.T) {
	t.Parallel()

	s := NewStrategy(10)
	assert.Equal(t, 10, s.Allocate(profileWith(5, 0, 20, 10)), "allocation caps at ceiling")
	assert.GreaterOrEqual(t, s.Allocate(profileWith(1, 1.0, 0, 0)), 1, "allocation never drops below 1")
}

func TestNewStrategyRejectsNonPositiveCeiling(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, NewStrategy(0).Ceiling())
	assert.Equal(t, 1, NewStrategy(-5).Ceiling())
}

func TestAdjustDirections(t *testing.T) {
	t.Parallel()

	s := NewStrategy(50)
	old := profileWith(2, 0.5, 1, 1)
	deeper := profileWith(4, 0.5, 1, 1)
	deeper.ProfileVersion = 2

	// A raised allocation cannot restore units already spent.
	raised, reason := s.Adjust(old, deeper, 5)
	assert.Equal(t, 5, raised)
	assert.Contains(t, reason, "raised")

	lowered, reason := s.Adjust(deeper, old, 10)
	assert.Less(t, lowered, 10)
	assert.Contains(t, reason, "lowered")

	same, reason := s.Adjust(old, old, 7)
	assert.Equal(t, 7, same)
	assert.Contains(t, reason, "unchanged")
}

func TestAdjustNeverExceedsCurrent(t *testing.T) {
	t.Parallel()

	s := NewStrategy(12)
	big := profileWith(5, 0, 10, 5)
	small := profileWith(1, 1.0, 0, 0)

	down, _ := s.Adjust(big, small, 2)
	assert.Equal(t, 0, down)

	for _, current := range []int{1, 5, 11} {
		up, _ := s.Adjust(small, big, current)
		assert.LessOrEqual(t, up, current)
	}
}

func TestCreateExpirationResponseClosesOpenPass(t *testing.T) {
	t.Parallel()

	s := NewStrategy(10)
	open := &model.ExecutionPass{
		PassNumber:   3,
		Phase:        model.PhaseC,
		TTLRemaining: 4,
		Timing:       model.PassTiming{Start: time.Now().UTC()},
	}
	partial := []model.StepResult{{StepID: "s1", Status: model.StepComplete, Output: "partial"}}

	resp := s.CreateExpirationResponse(ExpireMidPhase, model.PhaseC, open, []*model.ExecutionPass{open}, partial, "run-1", "do the thing")
	require.NotNil(t, resp)
	assert.True(t, open.Closed())
	assert.Equal(t, 0, open.TTLRemaining)
	assert.Equal(t, partial, resp.PartialSteps)
	assert.Contains(t, resp.Message, "mid_phase")

	// Already-closed passes stay untouched.
	closedAt := open.Timing.End
	_ = s.CreateExpirationResponse(ExpirePhaseBoundary, model.PhaseC, open, nil, nil, "run-1", "x")
	assert.Equal(t, closedAt, open.Timing.End)
}
