package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/sethvargo/go-retry"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIAPIKeyEnv = "OPENAI_API_KEY"
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	Model      string
	BaseURL    string
	APIKey     string
	APIKeyEnv  string
	MaxRetries int
}

// OpenAIClient wraps the OpenAI Responses API for oneshot calls.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client openai.Client
}

// NewOpenAIClient constructs an OpenAI API client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envKey := strings.TrimSpace(cfg.APIKeyEnv)
		if envKey == "" {
			envKey = defaultOpenAIAPIKeyEnv
		}
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required (set api_key or api_key_env)")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	cfg.Model = model
	cfg.BaseURL = baseURL

	return &OpenAIClient{
		cfg: cfg,
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithRequestTimeout(defaultTimeout),
			option.WithMaxRetries(0), // the adapter owns retries
		),
	}, nil
}

// Generate executes a single Responses API request with backoff.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	params := responses.ResponseNewParams{
		Model: c.cfg.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}

	var out Response
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(defaultRetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.client.Responses.New(ctx, params)
		if err != nil {
			return retry.RetryableError(err)
		}
		text := resp.OutputText()
		if strings.TrimSpace(text) == "" {
			return retry.RetryableError(fmt.Errorf("empty completion"))
		}
		out = Response{
			Text:  text,
			Model: c.cfg.Model,
			Usage: &Usage{
				InputTokens:  int(resp.Usage.InputTokens),
				OutputTokens: int(resp.Usage.OutputTokens),
			},
		}
		return nil
	})
	if err != nil {
		return Response{}, orcerr.Wrap(err, orcerr.CodeLLMTransport, orcerr.ComponentLLM, orcerr.SeverityError, "openai responses.create failed").
			WithContext("model", c.cfg.Model)
	}
	return out, nil
}

// SupportsStreaming reports false; the engine consumes whole completions.
func (c *OpenAIClient) SupportsStreaming() bool { return false }

var _ Client = (*OpenAIClient)(nil)
