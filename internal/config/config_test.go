package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "genai", cfg.LLM.Provider)
	assert.Equal(t, 25, cfg.Budgets.TTLCeiling)
	assert.True(t, cfg.Tools.Builtin)
}

func TestNormalizeFillsZeroFields(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.Normalize()

	def := Default()
	assert.Equal(t, def.Budgets, cfg.Budgets)
	assert.Equal(t, def.Thresholds, cfg.Thresholds)
	// Normalize never touches the llm block; providers are explicit.
	assert.Empty(t, cfg.LLM.Provider)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.Budgets.TTLCeiling = 7
	cfg.Thresholds.Completeness = 0.8
	cfg.Normalize()

	assert.Equal(t, 7, cfg.Budgets.TTLCeiling)
	assert.InDelta(t, 0.8, cfg.Thresholds.Completeness, 1e-9)
	assert.Equal(t, Default().Budgets.MaxPasses, cfg.Budgets.MaxPasses)
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero ttl ceiling", func(c *Config) { c.Budgets.TTLCeiling = 0 }, "ttl_ceiling"},
		{"completeness above one", func(c *Config) { c.Thresholds.Completeness = 1.5 }, "completeness"},
		{"coherence zero", func(c *Config) { c.Thresholds.Coherence = 0 }, "coherence"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "oracle" }, "provider"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateEmptyProviderAllowed(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.LLM.Provider = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateSettingsAcceptsWellFormed(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"llm": map[string]any{
			"provider":    "openai",
			"model":       "gpt-4o-mini",
			"max_tokens":  2048,
			"temperature": 0.5,
		},
		"budgets": map[string]any{
			"ttl_ceiling": 10,
			"max_passes":  20,
		},
		"thresholds": map[string]any{
			"completeness": 0.9,
			"coherence":    0.85,
		},
		"tools": map[string]any{
			"builtin": true,
			"mcp_url": "http://localhost:8931/mcp",
		},
	}
	assert.NoError(t, ValidateSettings(settings))
}

func TestValidateSettingsRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings map[string]any
	}{
		{
			"unknown provider",
			map[string]any{"llm": map[string]any{"provider": "oracle"}},
		},
		{
			"unknown llm key",
			map[string]any{"llm": map[string]any{"provider": "genai", "endpoint": "x"}},
		},
		{
			"non-integer ceiling",
			map[string]any{"budgets": map[string]any{"ttl_ceiling": "ten"}},
		},
		{
			"completeness out of range",
			map[string]any{"thresholds": map[string]any{"completeness": 2}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSettings(tt.settings)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config schema")
		})
	}
}

func TestValidateSettingsEmptyIsValid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSettings(map[string]any{}))
}
