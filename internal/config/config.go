// Package config provides configuration loading and management for arbiter.
package config

import "fmt"

// Config is the root configuration.
type Config struct {
	LLM        LLMConfig       `json:"llm"        mapstructure:"llm" yaml:"llm"`
	Budgets    Budgets         `json:"budgets"    mapstructure:"budgets" yaml:"budgets"`
	Thresholds Thresholds      `json:"thresholds" mapstructure:"thresholds" yaml:"thresholds"`
	Tools      ToolsConfig     `json:"tools"      mapstructure:"tools" yaml:"tools"`
	Retention  RetentionPolicy `json:"retention"  mapstructure:"retention" yaml:"retention"`
}

// LLMConfig selects and configures the reasoning backend.
type LLMConfig struct {
	Provider    string  `json:"provider"              mapstructure:"provider" yaml:"provider"` // genai, openai
	Model       string  `json:"model,omitempty"       mapstructure:"model" yaml:"model"`
	APIKeyEnv   string  `json:"api_key_env,omitempty" mapstructure:"api_key_env" yaml:"api_key_env"`
	BaseURL     string  `json:"base_url,omitempty"    mapstructure:"base_url" yaml:"base_url"`
	MaxTokens   int     `json:"max_tokens,omitempty"  mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature" yaml:"temperature"`
	MaxRetries  int     `json:"max_retries,omitempty" mapstructure:"max_retries" yaml:"max_retries"`
}

// Budgets defines run limits.
type Budgets struct {
	TTLCeiling        int `json:"ttl_ceiling"                   mapstructure:"ttl_ceiling" yaml:"ttl_ceiling"`
	MaxPasses         int `json:"max_passes,omitempty"          mapstructure:"max_passes" yaml:"max_passes"`
	FragmentCap       int `json:"fragment_cap,omitempty"        mapstructure:"fragment_cap" yaml:"fragment_cap"`
	GlobalRefinement  int `json:"global_refinements,omitempty"  mapstructure:"global_refinements" yaml:"global_refinements"`
	MaxSubplanDepth   int `json:"max_subplan_depth,omitempty"   mapstructure:"max_subplan_depth" yaml:"max_subplan_depth"`
	MaxRepairAttempts int `json:"max_repair_attempts,omitempty" mapstructure:"max_repair_attempts" yaml:"max_repair_attempts"`
}

// Thresholds bound convergence judgments.
type Thresholds struct {
	Completeness float64 `json:"completeness,omitempty" mapstructure:"completeness" yaml:"completeness"`
	Coherence    float64 `json:"coherence,omitempty"    mapstructure:"coherence" yaml:"coherence"`
}

// ToolsConfig configures tool sources for the registry.
type ToolsConfig struct {
	Builtin bool   `json:"builtin"                 mapstructure:"builtin" yaml:"builtin"`
	MCPURL  string `json:"mcp_url,omitempty"       mapstructure:"mcp_url" yaml:"mcp_url"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last" yaml:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days" yaml:"keep_days"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "genai",
			Model:       "gemini-2.0-flash",
			MaxTokens:   4096,
			Temperature: 0.2,
			MaxRetries:  3,
		},
		Budgets: Budgets{
			TTLCeiling:        25,
			MaxPasses:         50,
			FragmentCap:       3,
			GlobalRefinement:  10,
			MaxSubplanDepth:   5,
			MaxRepairAttempts: 2,
		},
		Thresholds: Thresholds{
			Completeness: 0.95,
			Coherence:    0.90,
		},
		Tools: ToolsConfig{Builtin: true},
	}
}

// Normalize fills zero-valued budget and threshold fields with defaults.
func (c *Config) Normalize() {
	def := Default()
	if c.Budgets.TTLCeiling <= 0 {
		c.Budgets.TTLCeiling = def.Budgets.TTLCeiling
	}
	if c.Budgets.MaxPasses <= 0 {
		c.Budgets.MaxPasses = def.Budgets.MaxPasses
	}
	if c.Budgets.FragmentCap <= 0 {
		c.Budgets.FragmentCap = def.Budgets.FragmentCap
	}
	if c.Budgets.GlobalRefinement <= 0 {
		c.Budgets.GlobalRefinement = def.Budgets.GlobalRefinement
	}
	if c.Budgets.MaxSubplanDepth <= 0 {
		c.Budgets.MaxSubplanDepth = def.Budgets.MaxSubplanDepth
	}
	if c.Budgets.MaxRepairAttempts <= 0 {
		c.Budgets.MaxRepairAttempts = def.Budgets.MaxRepairAttempts
	}
	if c.Thresholds.Completeness <= 0 {
		c.Thresholds.Completeness = def.Thresholds.Completeness
	}
	if c.Thresholds.Coherence <= 0 {
		c.Thresholds.Coherence = def.Thresholds.Coherence
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Budgets.TTLCeiling <= 0 {
		return fmt.Errorf("budgets.ttl_ceiling must be > 0")
	}
	if c.Thresholds.Completeness <= 0 || c.Thresholds.Completeness > 1 {
		return fmt.Errorf("thresholds.completeness must be in (0,1]")
	}
	if c.Thresholds.Coherence <= 0 || c.Thresholds.Coherence > 1 {
		return fmt.Errorf("thresholds.coherence must be in (0,1]")
	}
	switch c.LLM.Provider {
	case "", "genai", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}
