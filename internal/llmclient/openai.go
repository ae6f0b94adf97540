package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// OpenAIClient implements schemas.LLMClient on the OpenAI chat completions
// API. An endpoint override makes it speak to any OpenAI-compatible server.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.ProviderConfig
	logger *zap.Logger

	maxRetries     uint64
	backoffFactory func() backoff.BackOff
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient initializes the client.
func NewOpenAIClient(cfg config.ProviderConfig, maxRetries int, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	if maxRetries < 0 {
		maxRetries = 0
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		cfg:        cfg,
		logger:     logger.Named("llm_client.openai"),
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
func (c *OpenAIClient) Name() string { return "openai:" + c.cfg.Model }

// Generate sends the prompts as a two-message chat completion, retrying
// transient failures with exponential backoff.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
	if c.cfg.Temperature > 0 {
		req.Temperature = float32(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = c.cfg.MaxTokens
	}

	var out string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if isTransientOpenAIError(err) {
				c.logger.Warn("Transient OpenAI error, retrying.", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("openai returned no choices"))
		}

		content := resp.Choices[0].Message.Content
		if content == "" {
			return fmt.Errorf("openai returned empty content (finish reason: %s)", resp.Choices[0].FinishReason)
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int("total_tokens", resp.Usage.TotalTokens))
		out = content
		return nil
	}

	b := backoff.WithMaxRetries(backoff.WithContext(c.backoffFactory(), ctx), c.maxRetries)
	if err := backoff.Retry(operation, b); err != nil {
		return "", err
	}
	return out, nil
}

// isTransientOpenAIError mirrors the Gemini classification for the OpenAI
// error types. Raw transport failures are retryable; the bounded retry count
// keeps that from spinning on a dead endpoint.
func isTransientOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
