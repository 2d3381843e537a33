package tool

import (
	"context"
	"testing"

	"github.com/lumeon/arbiter/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Nil(t, r.Get("calculator"))

	RegisterBuiltins(r, memory.NewInMemory())
	require.NotNil(t, r.Get("calculator"))
	require.NotNil(t, r.Get("memory_write"))
	require.NotNil(t, r.Get("memory_read"))
}

func TestExportForLLMSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltins(r, memory.NewInMemory())

	catalogue := r.ExportForLLM()
	require.Len(t, catalogue, 3)
	assert.Equal(t, "calculator", catalogue[0].Name)
	assert.Equal(t, "memory_read", catalogue[1].Name)
	assert.Equal(t, "memory_write", catalogue[2].Name)
	for _, d := range catalogue {
		assert.NotEmpty(t, d.Description)
		assert.NotNil(t, d.InputSchema)
	}
}

func TestCalculator(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltins(r, memory.NewInMemory())
	calc := r.Get("calculator")
	ctx := context.Background()

	cases := []struct {
		op   string
		a, b float64
		want float64
	}{
		{"add", 5, 10, 15},
		{"sub", 10, 4, 6},
		{"mul", 3, 7, 21},
		{"div", 12, 4, 3},
	}
	for _, tc := range cases {
		got, err := calc.Invoke(ctx, map[string]any{"op": tc.op, "a": tc.a, "b": tc.b})
		require.NoError(t, err, tc.op)
		result, ok := got.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, tc.want, result["result"], tc.op)
	}
}

func TestCalculatorErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltins(r, memory.NewInMemory())
	calc := r.Get("calculator")
	ctx := context.Background()

	_, err := calc.Invoke(ctx, map[string]any{"op": "div", "a": 1.0, "b": 0.0})
	assert.Error(t, err, "division by zero")

	_, err = calc.Invoke(ctx, map[string]any{"op": "pow", "a": 2.0, "b": 3.0})
	assert.Error(t, err, "unknown op")

	_, err = calc.Invoke(ctx, map[string]any{"op": "add", "a": "x", "b": 1.0})
	assert.Error(t, err, "non-numeric operand")
}

func TestCalculatorAcceptsJSONNumbers(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltins(r, memory.NewInMemory())
	calc := r.Get("calculator")

	// LLM-derived args arrive as json.Unmarshal output: float64 or int.
	got, err := calc.Invoke(context.Background(), map[string]any{"op": "add", "a": 5, "b": 10})
	require.NoError(t, err)
	result := got.(map[string]any)
	assert.Equal(t, float64(15), result["result"])
}

func TestMemoryTools(t *testing.T) {
	t.Parallel()

	mem := memory.NewInMemory()
	r := NewRegistry()
	RegisterBuiltins(r, mem)
	ctx := context.Background()

	_, err := r.Get("memory_write").Invoke(ctx, map[string]any{"key": "facts/sum", "value": "15"})
	require.NoError(t, err)

	got, err := r.Get("memory_read").Invoke(ctx, map[string]any{"key": "facts/sum"})
	require.NoError(t, err)
	result, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "15", result["value"])

	stored, err := mem.Read("facts/sum")
	require.NoError(t, err)
	assert.Equal(t, "15", stored)
}
