package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeon/arbiter/internal/memory"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/lumeon/arbiter/internal/tool"
)

func builtinRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	tool.RegisterBuiltins(r, memory.NewInMemory())
	return r
}

func TestExecuteStepToolWithDerivedArgs(t *testing.T) {
	t.Parallel()

	client := newScriptedEngineClient(`{"op":"add","a":5,"b":10}`)
	exec := &llmExecutor{client: client, registry: builtinRegistry(t)}

	step := &model.PlanStep{StepID: "step-1", Description: "add 5 and 10", Tool: "calculator"}
	output, clarity, err := exec.ExecuteStep(context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, model.ClarityClear, clarity)
	assert.JSONEq(t, `{"result":15}`, output)
	assert.Equal(t, 1, client.calls)
}

func TestExecuteStepToolFencedArgs(t *testing.T) {
	t.Parallel()

	// No supervisor wired; the local JSON extraction handles fenced output.
	client := newScriptedEngineClient("```json\n{\"op\":\"mul\",\"a\":3,\"b\":4}\n```")
	exec := &llmExecutor{client: client, registry: builtinRegistry(t)}

	step := &model.PlanStep{StepID: "step-1", Description: "multiply", Tool: "calculator"}
	output, _, err := exec.ExecuteStep(context.Background(), step)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":12}`, output)
}

func TestExecuteStepUnknownTool(t *testing.T) {
	t.Parallel()

	exec := &llmExecutor{registry: builtinRegistry(t)}
	step := &model.PlanStep{StepID: "step-1", Description: "use a tool", Tool: "teleporter"}

	_, clarity, err := exec.ExecuteStep(context.Background(), step)
	require.Error(t, err)
	assert.Equal(t, model.ClarityBlocked, clarity)
	oe, ok := orcerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, orcerr.CodeToolFailure, oe.Code)
}

func TestExecuteStepPlainLLM(t *testing.T) {
	t.Parallel()

	client := newScriptedEngineClient("The answer is 15.\nCLARITY: PARTIALLY_CLEAR")
	exec := &llmExecutor{client: client}

	step := &model.PlanStep{StepID: "step-1", Description: "answer the question", StepIndex: 1, TotalSteps: 1}
	output, clarity, err := exec.ExecuteStep(context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, "The answer is 15.", output)
	assert.Equal(t, model.ClarityPartiallyClear, clarity)
}

func TestExecuteStepWithoutClient(t *testing.T) {
	t.Parallel()

	exec := &llmExecutor{}
	_, clarity, err := exec.ExecuteStep(context.Background(), &model.PlanStep{StepID: "step-1", Description: "anything"})
	require.Error(t, err)
	assert.Equal(t, model.ClarityBlocked, clarity)
}

func TestSplitClarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		output  string
		clarity model.ClarityState
	}{
		{"clear marker", "all good\nCLARITY: CLEAR", "all good", model.ClarityClear},
		{"blocked marker", "cannot proceed\nCLARITY: BLOCKED", "cannot proceed", model.ClarityBlocked},
		{"partial marker", "half done\nCLARITY: PARTIALLY_CLEAR", "half done", model.ClarityPartiallyClear},
		{"no marker defaults clear", "just text", "just text", model.ClarityClear},
		{"marker with padding", "done\n  CLARITY:  BLOCKED  ", "done", model.ClarityBlocked},
		{"unknown marker stripped", "done\nCLARITY: MAYBE", "done", model.ClarityClear},
		{"empty input", "", "", model.ClarityClear},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			output, clarity := splitClarity(tt.text)
			assert.Equal(t, tt.output, output)
			assert.Equal(t, tt.clarity, clarity)
		})
	}
}
