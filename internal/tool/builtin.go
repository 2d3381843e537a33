package tool

import (
	"context"
	"fmt"

	"github.com/lumeon/arbiter/internal/memory"
	"github.com/lumeon/arbiter/internal/orcerr"
)

// RegisterBuiltins installs the built-in tool set against the given memory.
func RegisterBuiltins(r *Registry, mem memory.Store) {
	r.Register(&calculatorTool{})
	r.Register(&memoryWriteTool{mem: mem})
	r.Register(&memoryReadTool{mem: mem})
}

type calculatorTool struct{}

func (t *calculatorTool) Name() string { return "calculator" }
func (t *calculatorTool) Description() string { return "Evaluate a basic arithmetic operation on two operands." }

func (t *calculatorTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{"type": "string", "enum": []any{"add", "sub", "mul", "div"}},
			"a":  map[string]any{"type": "number"},
			"b":  map[string]any{"type": "number"},
		},
		"required": []any{"op", "a", "b"},
	}
}

func (t *calculatorTool) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"result": map[string]any{"type": "number"},
		},
		"required": []any{"result"},
	}
}

func (t *calculatorTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	op, _ := args["op"].(string)
	a, aok := toFloat(args["a"])
	b, bok := toFloat(args["b"])
	if !aok || !bok {
		return nil, orcerr.New(orcerr.CodeToolFailure, orcerr.ComponentTool, orcerr.SeverityError, "calculator operands must be numbers")
	}
	var result float64
	switch op {
	case "add":
		result = a + b
	case "sub":
		result = a - b
	case "mul":
		result = a * b
	case "div":
		if b == 0 {
			return nil, orcerr.New(orcerr.CodeToolFailure, orcerr.ComponentTool, orcerr.SeverityError, "division by zero")
		}
		result = a / b
	default:
		return nil, orcerr.New(orcerr.CodeToolFailure, orcerr.ComponentTool, orcerr.SeverityError, fmt.Sprintf("unknown op %q", op))
	}
	return map[string]any{"result": result}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

type memoryWriteTool struct {
	mem memory.Store
}

func (t *memoryWriteTool) Name() string { return "memory_write" }
func (t *memoryWriteTool) Description() string { return "Persist a value in working memory under a key." }

func (t *memoryWriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string", "minLength": 1},
			"value": map[string]any{},
		},
		"required": []any{"key", "value"},
	}
}

func (t *memoryWriteTool) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"stored": map[string]any{"type": "boolean"},
		},
		"required": []any{"stored"},
	}
}

func (t *memoryWriteTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	if err := t.mem.Write(key, args["value"]); err != nil {
		return nil, orcerr.Wrap(err, orcerr.CodeMemoryFailure, orcerr.ComponentMemory, orcerr.SeverityError, "memory write failed")
	}
	return map[string]any{"stored": true}, nil
}

type memoryReadTool struct {
	mem memory.Store
}

func (t *memoryReadTool) Name() string { return "memory_read" }
func (t *memoryReadTool) Description() string { return "Read a value from working memory by key." }

func (t *memoryReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"key"},
	}
}

func (t *memoryReadTool) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{},
			"found": map[string]any{"type": "boolean"},
		},
		"required": []any{"found"},
	}
}

func (t *memoryReadTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	value, err := t.mem.Read(key)
	if err != nil {
		return nil, orcerr.Wrap(err, orcerr.CodeMemoryFailure, orcerr.ComponentMemory, orcerr.SeverityError, "memory read failed")
	}
	return map[string]any{"value": value, "found": value != nil}, nil
}
