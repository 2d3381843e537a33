package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/memory"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/lumeon/arbiter/internal/supervisor"
	"github.com/lumeon/arbiter/internal/tool"
)

// llmExecutor is the default step executor: tool steps invoke their tool
// with LLM-derived arguments, plain steps are answered by the LLM directly.
type llmExecutor struct {
	client     llm.Client
	supervisor *supervisor.Supervisor
	registry   *tool.Registry
	memory     memory.Store
}

const executeSystemPrompt = `You execute one step of a larger plan.
Produce the step's output directly, concise and complete.
End your reply with a line "CLARITY: CLEAR", "CLARITY: PARTIALLY_CLEAR",
or "CLARITY: BLOCKED" describing how actionable the step was.`

const argsSystemPrompt = `You prepare arguments for a tool call.
Output ONLY a JSON object matching the tool's input schema. No prose.`

func (e *llmExecutor) ExecuteStep(ctx context.Context, step *model.PlanStep) (string, model.ClarityState, error) {
	if step.Tool != "" && e.registry != nil {
		if t := e.registry.Get(step.Tool); t != nil {
			return e.executeToolStep(ctx, step, t)
		}
		return "", model.ClarityBlocked, orcerr.New(orcerr.CodeToolFailure, orcerr.ComponentTool, orcerr.SeverityError,
			fmt.Sprintf("step %s names unknown tool %q", step.StepID, step.Tool))
	}
	return e.executeLLMStep(ctx, step)
}

func (e *llmExecutor) executeLLMStep(ctx context.Context, step *model.PlanStep) (string, model.ClarityState, error) {
	if e.client == nil {
		return "", model.ClarityBlocked, orcerr.New(orcerr.CodeLLMTransport, orcerr.ComponentLLM, orcerr.SeverityError, "no llm client configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of %d: %s\n", step.StepIndex, step.TotalSteps, step.Description)
	if step.IncomingContext != "" {
		b.WriteString("\nContext from the previous step:\n")
		b.WriteString(step.IncomingContext)
	}

	resp, err := e.client.Generate(ctx, llm.Request{
		Prompt:       b.String(),
		SystemPrompt: executeSystemPrompt,
		MaxTokens:    2048,
		Temperature:  0.2,
	})
	if err != nil {
		return "", model.ClarityUnset, err
	}
	output, clarity := splitClarity(resp.Text)
	return output, clarity, nil
}

func (e *llmExecutor) executeToolStep(ctx context.Context, step *model.PlanStep, t tool.Tool) (string, model.ClarityState, error) {
	args, err := e.deriveArgs(ctx, step, t)
	if err != nil {
		return "", model.ClarityPartiallyClear, err
	}

	result, err := t.Invoke(ctx, args)
	if err != nil {
		return "", model.ClarityBlocked, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result), model.ClarityClear, nil
	}
	return string(data), model.ClarityClear, nil
}

func (e *llmExecutor) deriveArgs(ctx context.Context, step *model.PlanStep, t tool.Tool) (map[string]any, error) {
	if e.client == nil {
		return nil, orcerr.New(orcerr.CodeLLMTransport, orcerr.ComponentLLM, orcerr.SeverityError, "no llm client configured")
	}

	schemaJSON, err := json.Marshal(t.InputSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal tool schema: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s (%s)\n\nInput schema:\n%s\n\nStep: %s\n", t.Name(), t.Description(), schemaJSON, step.Description)
	if step.IncomingContext != "" {
		b.WriteString("\nContext from the previous step:\n")
		b.WriteString(step.IncomingContext)
	}

	resp, err := e.client.Generate(ctx, llm.Request{
		Prompt:       b.String(),
		SystemPrompt: argsSystemPrompt,
		MaxTokens:    1024,
		Temperature:  0,
	})
	if err != nil {
		return nil, err
	}

	raw := []byte(resp.Text)
	var args map[string]any
	if json.Unmarshal(raw, &args) == nil {
		return args, nil
	}
	if e.supervisor != nil {
		repaired, err := e.supervisor.Repair(ctx, resp.Text, string(schemaJSON))
		if err != nil {
			return nil, err
		}
		if json.Unmarshal(repaired, &args) == nil {
			return args, nil
		}
	}
	if extracted, ok := supervisor.ExtractJSON(raw); ok && json.Unmarshal(extracted, &args) == nil {
		return args, nil
	}
	return nil, fmt.Errorf("tool arguments are not a JSON object")
}

// splitClarity strips the trailing clarity marker from step output.
func splitClarity(text string) (string, model.ClarityState) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	clarity := model.ClarityClear
	last := len(lines) - 1
	if last >= 0 {
		trimmed := strings.TrimSpace(lines[last])
		if marker, ok := strings.CutPrefix(trimmed, "CLARITY:"); ok {
			switch strings.TrimSpace(marker) {
			case string(model.ClarityClear):
				clarity = model.ClarityClear
			case string(model.ClarityPartiallyClear):
				clarity = model.ClarityPartiallyClear
			case string(model.ClarityBlocked):
				clarity = model.ClarityBlocked
			}
			lines = lines[:last]
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), clarity
}
