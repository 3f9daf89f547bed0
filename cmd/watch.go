// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/engine"
	"github.com/xkilldash9x/mahoraga/internal/ingest"
	"github.com/xkilldash9x/mahoraga/internal/observability"
	"github.com/xkilldash9x/mahoraga/internal/service"
)

// reportBuffer sizes the watcher-to-engine handoff channel.
const reportBuffer = 16

// newWatchCommand tails a crash log and feeds detected tracebacks through the
// triage pipeline.
func newWatchCommand(getConfig func() config.Interface) *cobra.Command {
	var (
		logPath   string
		fromStart bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail a crash log and triage every detected traceback",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if logPath != "" {
				cfg.SetWatchLogPath(logPath)
			}
			return runWatch(cmd.Context(), cfg, fromStart)
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "crash log file to tail")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "replay the whole file instead of seeking to the end")
	return cmd
}

func runWatch(ctx context.Context, cfg config.Interface, fromStart bool) error {
	logger := observability.GetLogger()

	watchCfg := cfg.Watch()
	if fromStart {
		watchCfg.FromStart = true
	}

	components, err := service.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	components.Engine.Start(ctx)

	reports := make(chan schemas.BugReport, reportBuffer)
	watcher, err := ingest.NewWatcher(watchCfg, reports, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping watch")
			return nil
		case report := <-reports:
			taskID, err := components.Engine.Submit(report)
			if err != nil {
				if errors.Is(err, engine.ErrQueueFull) {
					logger.Warn("Dropping crash report, triage queue is full",
						zap.String("issue_id", report.IssueID))
					continue
				}
				return err
			}
			logger.Info("Crash report queued",
				zap.String("issue_id", report.IssueID),
				zap.String("task_id", taskID))
		}
	}
}
