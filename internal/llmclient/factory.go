package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// NewFromConfig builds the provider chain from configuration. A provider
// that fails to initialize (typically a missing API key) is skipped with a
// warning rather than aborting, so one bad credential does not take down the
// whole chain. An empty chain is ErrNoProviders.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("llm_factory")

	var clients []schemas.LLMClient
	for _, pc := range cfg.Providers {
		var (
			client schemas.LLMClient
			err    error
		)
		switch pc.Name {
		case config.ProviderGemini:
			client, err = NewGeminiClient(ctx, pc, cfg.MaxRetries, logger)
		case config.ProviderOpenAI:
			client, err = NewOpenAIClient(pc, cfg.MaxRetries, logger)
		default:
			err = fmt.Errorf("unknown provider %q", pc.Name)
		}
		if err != nil {
			log.Warn("Skipping LLM provider.",
				zap.String("provider", pc.Name),
				zap.String("model", pc.Model),
				zap.Error(err))
			continue
		}
		clients = append(clients, client)
		log.Info("LLM provider ready.", zap.String("provider", client.Name()))
	}

	return NewChain(clients, cfg.RequestsPerMinute, cfg.RequestTimeout, logger)
}
