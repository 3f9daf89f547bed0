// internal/llmclient/rate_limiter.go
package llmclient

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// rateLimitedClient throttles an inner client to the provider's request
// quota. The limiter is shared across tiers since the quota is per API key.
type rateLimitedClient struct {
	inner   schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// withRateLimit wraps inner with a requests-per-minute limiter. A zero or
// negative rpm disables throttling.
func withRateLimit(inner schemas.LLMClient, rpm float64, burst int, logger *zap.Logger) schemas.LLMClient {
	if rpm <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), burst),
		logger:  logger.Named("llm_rate_limiter"),
	}
}

func (c *rateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if !c.limiter.Allow() {
		c.logger.Debug("LLM request waiting on rate limiter")
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return c.inner.Generate(ctx, req)
}

func (c *rateLimitedClient) Close() error { return c.inner.Close() }
