// internal/notify/log.go
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// LogNotifier writes triage outcomes to the structured log. It is the default
// when no Slack credentials are configured, so one-shot runs still surface
// their outcome.
type LogNotifier struct {
	logger *zap.Logger
}

var _ schemas.Notifier = (*LogNotifier)(nil)

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs an assignment outcome.
func (n *LogNotifier) Notify(ctx context.Context, result *schemas.TriageResult) error {
	n.logger.Info("Bug triaged and assigned",
		zap.String("issue_id", result.Report.IssueID),
		zap.String("assignee", result.Decision.AssigneeID),
		zap.Float64("confidence", result.Decision.Confidence),
		zap.Bool("draft_fix", result.Decision.DraftFix != nil),
		zap.String("draft_pr_url", result.DraftPRURL))
	return nil
}

// Escalate logs a human-routed outcome.
func (n *LogNotifier) Escalate(ctx context.Context, result *schemas.TriageResult) error {
	n.logger.Warn("Bug routed to human triage",
		zap.String("issue_id", result.Report.IssueID),
		zap.Float64("confidence", result.Decision.Confidence),
		zap.String("reason", result.Decision.Reasoning))
	return nil
}
