package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeon/arbiter/internal/config"
)

func TestNewFromConfigUnknownProvider(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown llm provider "oracle"`)
}

func TestNewFromConfigOpenAI(t *testing.T) {
	t.Setenv("ARBITER_TEST_OPENAI_KEY", "sk-test")

	client, err := NewFromConfig(context.Background(), config.LLMConfig{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "ARBITER_TEST_OPENAI_KEY",
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.False(t, client.SupportsStreaming())
}

func TestNewOpenAIClientRequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient(OpenAIConfig{Model: "gpt-4o-mini", APIKeyEnv: "ARBITER_TEST_MISSING_KEY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}
