package llm

import (
	"context"
	"fmt"

	"github.com/lumeon/arbiter/internal/config"
)

// NewFromConfig constructs the client selected by the configuration.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "genai":
		return NewGenaiClient(ctx, GenaiConfig{
			Model:      cfg.Model,
			APIKeyEnv:  cfg.APIKeyEnv,
			MaxRetries: cfg.MaxRetries,
		})
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIKeyEnv:  cfg.APIKeyEnv,
			MaxRetries: cfg.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
