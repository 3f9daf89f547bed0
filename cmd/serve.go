// File: cmd/serve.go
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/observability"
	"github.com/xkilldash9x/mahoraga/internal/service"
)

// newServeCommand runs the full daemon: webhook ingress, worker pool, and the
// triage pipeline behind them.
func newServeCommand(getConfig func() config.Interface) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the triage daemon (webhook server and worker pool)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if workers > 0 {
				cfg.SetEngineWorkers(workers)
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "override the triage worker count")
	return cmd
}

func runServe(ctx context.Context, cfg config.Interface) error {
	logger := observability.GetLogger()

	components, err := service.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	components.Engine.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- components.Webhook.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining")
		return nil
	case err := <-serverErr:
		if err != nil {
			logger.Error("Webhook server exited", zap.Error(err))
		}
		return err
	}
}
