// internal/ingest/ingest.go

// Package ingest normalizes raw report payloads from every ingress (webhook
// events, tailed crash logs, JUnit result files) into schemas.BugReport
// values the engine can queue.
package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// Adapter converts one source's raw payload into zero or more reports. A
// payload the source legitimately ignores (wrong event action, passing test
// case) yields an empty slice, not an error.
type Adapter interface {
	Source() schemas.ReportSource
	Normalize(payload []byte) ([]schemas.BugReport, error)
}

// Registry dispatches payloads to the adapter registered for their source.
type Registry struct {
	logger   *zap.Logger
	adapters map[schemas.ReportSource]Adapter
}

// NewRegistry builds a registry with the standard adapters registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:   logger.Named("ingest"),
		adapters: make(map[schemas.ReportSource]Adapter),
	}
	r.Register(NewGithubAdapter())
	r.Register(NewJUnitAdapter())
	r.Register(NewCrashLogAdapter())
	return r
}

// Register adds or replaces the adapter for a source.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Source()] = a
}

// Normalize runs the payload through the adapter for the named source.
func (r *Registry) Normalize(source schemas.ReportSource, payload []byte) ([]schemas.BugReport, error) {
	adapter, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("no ingest adapter registered for source %q", source)
	}
	reports, err := adapter.Normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize %s payload: %w", source, err)
	}
	r.logger.Debug("Payload normalized",
		zap.String("source", string(source)),
		zap.Int("reports", len(reports)))
	return reports, nil
}

// localID generates an id for reports with no tracker issue behind them.
func localID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

func nowUTC() time.Time { return time.Now().UTC() }
