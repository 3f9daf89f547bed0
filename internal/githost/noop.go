// internal/githost/noop.go
package githost

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// NoopHost is used when no GitHub credentials are configured. It logs the
// decision it would have applied and opens nothing.
type NoopHost struct {
	logger *zap.Logger
}

var _ schemas.CodeHost = (*NoopHost)(nil)

// NewNoopHost builds the credential-less host.
func NewNoopHost(logger *zap.Logger) *NoopHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopHost{logger: logger.Named("githost")}
}

// ApplyDecision logs and returns no PR URL.
func (h *NoopHost) ApplyDecision(ctx context.Context, result *schemas.TriageResult) (string, error) {
	h.logger.Debug("GitHub side effects disabled, decision not applied to tracker",
		zap.String("issue_id", result.Report.IssueID),
		zap.String("assignee", result.Decision.AssigneeID),
		zap.Bool("routed_to_human", result.Decision.RoutedToHuman))
	return "", nil
}
