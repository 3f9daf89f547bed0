// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// NewClient builds the full client stack for the configured provider: one
// client per model tier, a tier router over them, and a shared rate limiter
// in front of the router.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	build := func(model string) (schemas.LLMClient, error) {
		switch cfg.Provider {
		case config.ProviderGemini:
			return NewGoogleClient(ctx, cfg, model, logger)
		case config.ProviderGeminiREST:
			return NewGeminiRESTClient(cfg, model, logger)
		default:
			return nil, fmt.Errorf("unknown LLM provider %q (supported: %s, %s)",
				cfg.Provider, config.ProviderGemini, config.ProviderGeminiREST)
		}
	}

	fast, err := build(cfg.FastModel)
	if err != nil {
		return nil, fmt.Errorf("failed to build fast-tier client: %w", err)
	}
	powerful, err := build(cfg.PowerfulModel)
	if err != nil {
		return nil, fmt.Errorf("failed to build powerful-tier client: %w", err)
	}

	router, err := NewRouter(logger, fast, powerful)
	if err != nil {
		return nil, err
	}
	return withRateLimit(router, cfg.RequestsPerMinute, cfg.Burst, logger), nil
}
