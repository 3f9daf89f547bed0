// internal/llmclient/helper_test.go
package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// MockLLMClient is a testify mock of the LLMClient interface.
type MockLLMClient struct {
	mock.Mock
	Name string
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// setupTestLogger returns a logger whose output is swallowed by an observer.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// validLLMConfig returns an LLMConfig suitable for offline construction.
func validLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:      config.ProviderGeminiREST,
		APIKey:        "test-api-key",
		FastModel:     "fast-model",
		PowerfulModel: "powerful-model",
		APITimeout:    5 * time.Second,
	}
}

func testGenerationRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "You are a precise bug analyst.",
		UserPrompt:   "Explain the crash.",
	}
}
