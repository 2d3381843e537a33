// Package llm defines the reasoning-backend adapter and its provider
// implementations. The adapter owns transport retry/backoff; callers only
// retry structural parse failures, via the supervisor.
package llm

import (
	"context"
	"time"
)

// Request is a single generation request.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Response is the adapter-normalized generation result.
type Response struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
	Model string `json:"model,omitempty"`
}

// Client is the LLM transport adapter. Generate blocks until the provider
// answers or internal retries are exhausted.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	SupportsStreaming() bool
}

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 250 * time.Millisecond
	defaultTimeout      = 60 * time.Second
)
