// internal/llmclient/errors.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure modes surfaced by provider clients. Clients make a single attempt;
// the caller owns retry policy and consults IsRetryable to apply it.
var (
	// ErrContentBlocked means the provider refused the prompt outright.
	ErrContentBlocked = errors.New("llm provider blocked the request")
	// ErrNoCandidates means the provider answered with an empty candidate list.
	ErrNoCandidates = errors.New("llm provider returned no candidates")
	// ErrEmptyContent means a candidate arrived with no text for a reason
	// that is not a block; another attempt may succeed.
	ErrEmptyContent = errors.New("llm provider returned empty content")
	// ErrMalformedResponse means the provider sent undecodable output.
	ErrMalformedResponse = errors.New("llm provider response malformed")
)

// APIError is a non-2xx provider status with its response body attached.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient condition.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies a Generate error for the caller's retry loop.
// Aborted contexts and provider rejections are final; rate limits, server
// errors, and unrecognized transport failures are worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrNoCandidates) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Network-level failures land here.
	return true
}
