package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

const defaultGenaiAPIKeyEnv = "GEMINI_API_KEY"

// GenaiConfig configures the Gemini-backed client.
type GenaiConfig struct {
	Model      string
	APIKey     string
	APIKeyEnv  string
	MaxRetries int
}

// GenaiClient adapts google.golang.org/genai to the Client interface.
type GenaiClient struct {
	cfg    GenaiConfig
	client *genai.Client
}

// NewGenaiClient constructs a Gemini API client.
func NewGenaiClient(ctx context.Context, cfg GenaiConfig) (*GenaiClient, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("genai model is required")
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envKey := strings.TrimSpace(cfg.APIKeyEnv)
		if envKey == "" {
			envKey = defaultGenaiAPIKeyEnv
		}
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required (set api_key or api_key_env)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	cfg.Model = model

	return &GenaiClient{cfg: cfg, client: client}, nil
}

// Generate executes one generation with exponential backoff on transport
// failures.
func (c *GenaiClient) Generate(ctx context.Context, req Request) (Response, error) {
	genCfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	genCfg.Temperature = genai.Ptr(float32(req.Temperature))
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	var out Response
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(defaultRetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()

		resp, err := c.client.Models.GenerateContent(callCtx, c.cfg.Model, genai.Text(req.Prompt), genCfg)
		if err != nil {
			return retry.RetryableError(err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return retry.RetryableError(fmt.Errorf("empty completion"))
		}
		out = Response{Text: text, Model: c.cfg.Model}
		if resp.UsageMetadata != nil {
			out.Usage = &Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		return nil
	})
	if err != nil {
		return Response{}, orcerr.Wrap(err, orcerr.CodeLLMTransport, orcerr.ComponentLLM, orcerr.SeverityError, "genai generate failed").
			WithContext("model", c.cfg.Model)
	}
	return out, nil
}

// SupportsStreaming reports false; the engine consumes whole completions.
func (c *GenaiClient) SupportsStreaming() bool { return false }

var _ Client = (*GenaiClient)(nil)
