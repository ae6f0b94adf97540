// Package llmclient provides the model providers behind fix generation: a
// Gemini client, an OpenAI-compatible client, and a fallback chain that walks
// the configured providers in order. Each client retries transient failures
// internally; a client error surfacing from Generate means that provider is
// exhausted for this request.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// GeminiClient implements schemas.LLMClient on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    config.ProviderConfig
	logger *zap.Logger

	maxRetries     uint64
	backoffFactory func() backoff.BackOff
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. The endpoint override is only used
// in tests and for proxied deployments; the default is the public API.
func NewGeminiClient(ctx context.Context, cfg config.ProviderConfig, maxRetries int, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	if maxRetries < 0 {
		maxRetries = 0
	}
	return &GeminiClient{
		client:     client,
		cfg:        cfg,
		logger:     logger.Named("llm_client.gemini"),
		maxRetries: uint64(maxRetries),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// Name identifies the provider and model in logs and chain errors.
func (c *GeminiClient) Name() string { return "gemini:" + c.cfg.Model }

// Generate sends the prompts to the Gemini API, retrying transient failures
// with exponential backoff. Permanent failures (blocked prompts, auth errors,
// malformed responses) abort immediately so the chain can move on.
func (c *GeminiClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		// Fix batches are always JSON arrays.
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}
	if c.cfg.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(c.cfg.Temperature))
	}
	if c.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}

	var out string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(userPrompt), genCfg)
		if err != nil {
			if isTransientGeminiError(err) {
				c.logger.Warn("Transient Gemini error, retrying.", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("gemini returned no candidates"))
		}

		text := resp.Text()
		if text == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini blocked the request (reason: %s)", reason))
			}
			return fmt.Errorf("gemini returned empty content (reason: %s)", reason)
		}

		if resp.UsageMetadata != nil {
			c.logger.Info("LLM generation complete (Gemini)",
				zap.Duration("duration", time.Since(start)),
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
				zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount))
		}
		out = text
		return nil
	}

	b := backoff.WithMaxRetries(backoff.WithContext(c.backoffFactory(), ctx), c.maxRetries)
	if err := backoff.Retry(operation, b); err != nil {
		return "", err
	}
	return out, nil
}

// isTransientGeminiError reports whether the error is worth retrying: rate
// limits, quota exhaustion and transient server failures.
func isTransientGeminiError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 503:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota")
}
