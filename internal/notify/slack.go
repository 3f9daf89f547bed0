// internal/notify/slack.go

// Package notify delivers triage outcomes to humans. The Slack notifier posts
// assignments to the triage channel and human-routed escalations to the
// escalation channel; when Slack is unconfigured, the log notifier keeps the
// pipeline honest without a network dependency.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

const (
	defaultAPIBase = "https://slack.com/api"
	// maxAttempts bounds delivery retries. Notification is best-effort; the
	// decision is already persisted by the time we get here.
	maxAttempts = 3
)

// SlackNotifier posts triage outcomes via chat.postMessage (bot token) or an
// incoming webhook URL.
type SlackNotifier struct {
	logger  *zap.Logger
	cfg     config.SlackConfig
	client  *http.Client
	apiBase string
}

var _ schemas.Notifier = (*SlackNotifier)(nil)

// NewSlackNotifier builds a Slack notifier from config. The API base is
// overridable for tests via SetAPIBase.
func NewSlackNotifier(cfg config.SlackConfig, logger *zap.Logger) *SlackNotifier {
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackNotifier{
		logger:  logger.Named("slack"),
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		apiBase: defaultAPIBase,
	}
}

// SetAPIBase redirects chat.postMessage calls, for tests.
func (n *SlackNotifier) SetAPIBase(base string) {
	n.apiBase = strings.TrimRight(base, "/")
}

// Notify announces an assignment on the triage channel.
func (n *SlackNotifier) Notify(ctx context.Context, result *schemas.TriageResult) error {
	return n.post(ctx, n.cfg.Channel, formatAssignment(result))
}

// Escalate announces a human-routed outcome on the escalation channel.
func (n *SlackNotifier) Escalate(ctx context.Context, result *schemas.TriageResult) error {
	channel := n.cfg.EscalationChannel
	if channel == "" {
		channel = n.cfg.Channel
	}
	return n.post(ctx, channel, formatEscalation(result))
}

// chatMessage is the chat.postMessage request body. The webhook mode posts
// the same shape minus the channel.
type chatMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

type chatResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// post delivers one message with bounded retry, honoring Retry-After on rate
// limits.
func (n *SlackNotifier) post(ctx context.Context, channel, text string) error {
	body, err := json.Marshal(chatMessage{Channel: channel, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := n.postOnce(ctx, body)
		if err == nil {
			return struct{}{}, nil
		}
		var rateErr *rateLimitedError
		if errors.As(err, &rateErr) {
			n.logger.Warn("Slack rate limited, backing off",
				zap.Duration("retry_after", rateErr.retryAfter),
				zap.Int("attempt", attempt))
			return struct{}{}, &backoff.RetryAfterError{Duration: rateErr.retryAfter}
		}
		var permErr *permanentError
		if errors.As(err, &permErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		n.logger.Warn("Slack delivery failed, will retry", zap.Int("attempt", attempt), zap.Error(err))
		return struct{}{}, err
	}

	if _, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxAttempts),
	); err != nil {
		return fmt.Errorf("%w: slack delivery failed: %w", schemas.ErrExternalDependency, err)
	}
	return nil
}

// postOnce issues a single delivery attempt.
func (n *SlackNotifier) postOnce(ctx context.Context, body []byte) error {
	endpoint := n.cfg.WebhookURL
	useAPI := n.cfg.BotToken != ""
	if useAPI {
		endpoint = n.apiBase + "/chat.postMessage"
	}
	if endpoint == "" {
		return &permanentError{reason: "slack is not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if useAPI {
		req.Header.Set("Authorization", "Bearer "+n.cfg.BotToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 2 * time.Second
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs >= 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &rateLimitedError{retryAfter: retryAfter}
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &permanentError{reason: fmt.Sprintf("slack returned status %d", resp.StatusCode)}
	}

	if !useAPI {
		// Incoming webhooks answer with a bare "ok" body.
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("malformed slack response: %w", err)
	}
	if !parsed.OK {
		return &permanentError{reason: "slack API error: " + parsed.Error}
	}
	return nil
}

// formatAssignment renders the triage-channel message.
func formatAssignment(result *schemas.TriageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":dart: *Bug triaged and assigned*\n")
	fmt.Fprintf(&b, "*Issue:* %s", result.Report.IssueID)
	if result.Report.IssueURL != "" {
		fmt.Fprintf(&b, " (<%s|view>)", result.Report.IssueURL)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "*Assignee:* %s\n", result.Decision.AssigneeID)
	fmt.Fprintf(&b, "*Confidence:* %.0f%%\n", result.Decision.Confidence)
	if result.Analysis.RootCauseHypothesis != "" {
		fmt.Fprintf(&b, "*Root cause:* %s\n", result.Analysis.RootCauseHypothesis)
	}
	if result.Analysis.FixComplexity != "" && result.Analysis.FixComplexity != schemas.ComplexityUnknown {
		fmt.Fprintf(&b, "*Estimated effort:* %s\n", result.Analysis.FixComplexity.EstimatedEffort())
	}
	if result.Decision.DraftFix != nil {
		fmt.Fprintf(&b, "*Draft fix:* %s (%d lines)\n",
			result.Decision.DraftFix.Label, result.Decision.DraftFix.LineCountChanged)
	}
	if result.DraftPRURL != "" {
		fmt.Fprintf(&b, "*Draft PR:* %s\n", result.DraftPRURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatEscalation renders the escalation-channel message.
func formatEscalation(result *schemas.TriageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: <!here> *Bug needs human triage*\n")
	fmt.Fprintf(&b, "*Issue:* %s", result.Report.IssueID)
	if result.Report.IssueURL != "" {
		fmt.Fprintf(&b, " (<%s|view>)", result.Report.IssueURL)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "*Confidence:* %.0f%%\n", result.Decision.Confidence)
	fmt.Fprintf(&b, "*Reason:* %s", result.Decision.Reasoning)
	return b.String()
}

// rateLimitedError carries the server-requested wait.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("slack rate limited, retry after %s", e.retryAfter)
}

// permanentError marks failures retrying cannot fix (bad token, bad channel).
type permanentError struct {
	reason string
}

func (e *permanentError) Error() string { return e.reason }
