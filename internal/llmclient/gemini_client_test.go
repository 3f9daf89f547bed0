// internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// -- Test Setup Helpers --

// setupRESTClient rigs up a GeminiRESTClient pointed at a mock HTTP server.
func setupRESTClient(t *testing.T, handler http.HandlerFunc) (*GeminiRESTClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: unexpected HTTP request in test")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	core, observedLogs := observer.New(zap.InfoLevel)
	cfg := validLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiRESTClient(cfg, "fast-model", zap.New(core))
	require.NoError(t, err)
	return client, server, observedLogs
}

func successResponse(text string, promptTokens, completionTokens int) geminiResponsePayload {
	var payload geminiResponsePayload
	payload.Candidates = append(payload.Candidates, struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		Content:      geminiContent{Parts: []geminiPart{{Text: text}}},
		FinishReason: "STOP",
	})
	payload.UsageMetadata.PromptTokenCount = promptTokens
	payload.UsageMetadata.CandidatesTokenCount = completionTokens
	payload.UsageMetadata.TotalTokenCount = promptTokens + completionTokens
	return payload
}

// -- Construction --

func TestNewGeminiRESTClient_DefaultEndpoint(t *testing.T) {
	cfg := validLLMConfig()
	cfg.Endpoint = ""

	client, err := NewGeminiRESTClient(cfg, "fast-model", setupTestLogger(t))
	require.NoError(t, err)

	expected := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", "fast-model")
	assert.Equal(t, expected, client.endpoint)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
}

func TestNewGeminiRESTClient_Validation(t *testing.T) {
	cfg := validLLMConfig()
	cfg.APIKey = ""
	_, err := NewGeminiRESTClient(cfg, "fast-model", setupTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")

	_, err = NewGeminiRESTClient(validLLMConfig(), "", setupTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model name is required")
}

// -- Generate: success path --

func TestGenerate_Success(t *testing.T) {
	const expectedText = "The crash is a nil map write."

	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))

		// System prompt rides in system_instruction, user prompt in contents.
		require.Contains(t, payload, "system_instruction")
		contents := payload["contents"].([]any)
		first := contents[0].(map[string]any)
		assert.Equal(t, "user", first["role"])

		// No temperature requested, so the field must be absent entirely.
		genConfig := payload["generationConfig"].(map[string]any)
		assert.NotContains(t, genConfig, "temperature")
		assert.NotContains(t, genConfig, "response_mime_type")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successResponse(expectedText, 120, 40))
	}

	client, _, observedLogs := setupRESTClient(t, handler)

	got, err := client.Generate(context.Background(), testGenerationRequest())
	require.NoError(t, err)
	assert.Equal(t, expectedText, got)

	require.Equal(t, 1, observedLogs.Len())
	entry := observedLogs.All()[0]
	assert.Equal(t, "LLM generation complete", entry.Message)
	assert.Equal(t, int64(120), entry.ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(40), entry.ContextMap()["completion_tokens"])
	assert.Equal(t, "fast-model", entry.ContextMap()["model"])
}

func TestGenerate_JSONModeAndTemperature(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))

		genConfig := payload["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", genConfig["response_mime_type"])
		assert.InDelta(t, 0.2, genConfig["temperature"], 1e-9)
		assert.EqualValues(t, 2048, genConfig["maxOutputTokens"])

		json.NewEncoder(w).Encode(successResponse("{}", 1, 1))
	}

	client, _, _ := setupRESTClient(t, handler)

	req := testGenerationRequest()
	req.Options.ForceJSONFormat = true
	temp := 0.2
	req.Options.Temperature = &temp
	req.Options.MaxOutputTokens = 2048

	_, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
}

// -- Generate: failure classification --

// Every HTTP failure must surface as a typed APIError after exactly one
// attempt; the retry decision belongs to the caller.
func TestGenerate_APIErrorClassification(t *testing.T) {
	testCases := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{name: "Forbidden Is Permanent", status: http.StatusForbidden, wantRetryable: false},
		{name: "Bad Request Is Permanent", status: http.StatusBadRequest, wantRetryable: false},
		{name: "Rate Limit Is Transient", status: http.StatusTooManyRequests, wantRetryable: true},
		{name: "Server Error Is Transient", status: http.StatusInternalServerError, wantRetryable: true},
		{name: "Unavailable Is Transient", status: http.StatusServiceUnavailable, wantRetryable: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var attempts atomic.Int32
			handler := func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte("provider says no"))
			}

			client, _, observedLogs := setupRESTClient(t, handler)
			_, err := client.Generate(context.Background(), testGenerationRequest())
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.wantRetryable, IsRetryable(err))
			assert.Equal(t, int32(1), attempts.Load(), "the client must make exactly one attempt")

			errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
			require.Equal(t, 1, errorLogs.Len())
			assert.Equal(t, int64(tc.status), errorLogs.All()[0].ContextMap()["status"])
		})
	}
}

func TestGenerate_SafetyBlock(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var payload geminiResponsePayload
		payload.Candidates = append(payload.Candidates, struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{FinishReason: "SAFETY"})
		json.NewEncoder(w).Encode(payload)
	}

	client, _, _ := setupRESTClient(t, handler)
	_, err := client.Generate(context.Background(), testGenerationRequest())

	require.ErrorIs(t, err, ErrContentBlocked)
	assert.False(t, IsRetryable(err), "blocked prompts will not pass on retry")
}

func TestGenerate_NoCandidates(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponsePayload{})
	}

	client, _, _ := setupRESTClient(t, handler)
	_, err := client.Generate(context.Background(), testGenerationRequest())

	require.ErrorIs(t, err, ErrNoCandidates)
	assert.False(t, IsRetryable(err))
}

func TestGenerate_EmptyContentIsTransient(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var payload geminiResponsePayload
		payload.Candidates = append(payload.Candidates, struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{FinishReason: "OTHER"})
		json.NewEncoder(w).Encode(payload)
	}

	client, _, _ := setupRESTClient(t, handler)
	_, err := client.Generate(context.Background(), testGenerationRequest())

	require.ErrorIs(t, err, ErrEmptyContent)
	assert.True(t, IsRetryable(err), "empty content for a non-block reason may succeed next time")
}

func TestGenerate_MalformedResponse(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{invalid json:"))
	}

	client, _, _ := setupRESTClient(t, handler)
	_, err := client.Generate(context.Background(), testGenerationRequest())

	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.False(t, IsRetryable(err))
}

func TestGenerate_NetworkErrorIsTransient(t *testing.T) {
	client, server, _ := setupRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached despite server being closed")
	})
	server.Close()

	_, err := client.Generate(context.Background(), testGenerationRequest())
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "connection failures are worth retrying")
}

// -- IsRetryable --

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "Nil", err: nil, want: false},
		{name: "Context Canceled", err: context.Canceled, want: false},
		{name: "Deadline Exceeded", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: false},
		{name: "Content Blocked", err: fmt.Errorf("x: %w", ErrContentBlocked), want: false},
		{name: "No Candidates", err: ErrNoCandidates, want: false},
		{name: "Malformed Response", err: ErrMalformedResponse, want: false},
		{name: "Empty Content", err: ErrEmptyContent, want: true},
		{name: "Server API Error", err: &APIError{StatusCode: 500}, want: true},
		{name: "Client API Error", err: &APIError{StatusCode: 404}, want: false},
		{name: "Unknown Error", err: errors.New("dial tcp: connection refused"), want: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
