// internal/llmclient/google_client.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// GoogleClient wraps the official genai SDK for one model. Like the REST
// client it makes exactly one attempt per Generate call.
type GoogleClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGoogleClient(ctx context.Context, cfg config.LLMConfig, model string, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GoogleClient{
		client: client,
		model:  model,
		logger: logger.Named("llm_client.google"),
	}, nil
}

func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genConfig := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.Options.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*req.Options.Temperature))
	}
	if req.Options.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.Options.MaxOutputTokens)
	}
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.UserPrompt), genConfig)
	if err != nil {
		return "", fmt.Errorf("genai generate failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w (reason: %s)", ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return "", ErrNoCandidates
	}

	text := resp.Text()
	if text == "" {
		if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
			return "", fmt.Errorf("%w (reason: %s)", ErrContentBlocked, resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("%w (reason: %s)", ErrEmptyContent, resp.Candidates[0].FinishReason)
	}

	c.logger.Info("LLM generation complete",
		zap.String("model", c.model),
		zap.Duration("duration", time.Since(start)),
	)
	return text, nil
}

// Close satisfies schemas.LLMClient; the SDK client needs no teardown.
func (c *GoogleClient) Close() error { return nil }
