package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ErrNoProviders indicates that not a single usable provider could be built
// from the configuration. Callers treat this as fatal: a repair run without
// any model cannot do layer-one fix generation at all.
var ErrNoProviders = errors.New("llmclient: no usable LLM provider configured")

// Chain walks the configured providers in order and returns the first
// successful generation. A shared limiter paces requests across all
// providers so fallback storms do not blow through API quotas.
type Chain struct {
	clients []schemas.LLMClient
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*Chain)(nil)

// NewChain initializes a provider chain. rpm caps the total request rate
// across all providers; zero means unlimited. timeout bounds each individual
// provider attempt, zero disables the bound.
func NewChain(clients []schemas.LLMClient, rpm int, timeout time.Duration, logger *zap.Logger) (*Chain, error) {
	if len(clients) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}

	return &Chain{
		clients: clients,
		limiter: limiter,
		timeout: timeout,
		logger:  logger.Named("llm_chain"),
	}, nil
}

// Name lists the chained providers in fallback order.
func (c *Chain) Name() string {
	names := make([]string, len(c.clients))
	for i, client := range c.clients {
		names[i] = client.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Generate tries each provider in order until one succeeds. Every failure is
// collected so the final error names each provider that was tried.
func (c *Chain) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var errs []error
	for _, client := range c.clients {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		reqCtx, cancel := ctx, func() {}
		if c.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		out, err := client.Generate(reqCtx, systemPrompt, userPrompt)
		cancel()

		if err == nil {
			return out, nil
		}
		c.logger.Warn("Provider failed, falling back.",
			zap.String("provider", client.Name()),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", client.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}
