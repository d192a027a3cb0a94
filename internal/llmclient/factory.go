package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// NewClient builds the tiered LLM client described by the configuration. Both
// tiers share one rate limiter so the minimum interval holds across models.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}

	limiter := NewLimiter(cfg.MinInterval)
	fast, err := NewGeminiClient(ctx, cfg, cfg.FastModel, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}

	powerfulModel := cfg.PowerfulModel
	if powerfulModel == "" {
		powerfulModel = cfg.FastModel
	}
	powerful, err := NewGeminiClient(ctx, cfg, powerfulModel, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}

	return NewLLMRouter(logger, fast, powerful)
}
