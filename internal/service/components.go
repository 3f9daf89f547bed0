// internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/engine"
	"github.com/xkilldash9x/mahoraga/internal/ingest"
	"github.com/xkilldash9x/mahoraga/internal/observability"
	"github.com/xkilldash9x/mahoraga/internal/pipeline"
	"github.com/xkilldash9x/mahoraga/internal/webhook"
)

// shutdownGrace bounds the webhook drain during Shutdown so a cancelled main
// context cannot leave requests hanging.
const shutdownGrace = 30 * time.Second

// Components holds the initialized triage services. The struct centralizes
// lifecycle management: Build fills it front to back and Shutdown releases it
// back to front.
type Components struct {
	Store    schemas.TriageStore
	History  schemas.HistoryProvider
	LLM      schemas.LLMClient
	Notifier schemas.Notifier
	Host     schemas.CodeHost
	Pipeline *pipeline.Pipeline
	Engine   *engine.Engine
	Registry *ingest.Registry
	Webhook  *webhook.Server

	// DBPool is nil when the in-memory store is selected.
	DBPool *pgxpool.Pool
}

// Shutdown closes everything in dependency order: stop accepting work, drain
// the workers, then release provider and database handles.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the HTTP ingress first so no new tasks arrive mid-drain.
	if c.Webhook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := c.Webhook.Shutdown(ctx); err != nil {
			logger.Warn("Error during webhook server shutdown.", zap.Error(err))
		} else {
			logger.Debug("Webhook server stopped.")
		}
		cancel()
	}

	// 2. Drain the worker pool. Stop blocks until queued tasks finish.
	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Triage engine stopped.")
	}

	// 3. Release the LLM provider.
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	// 4. Close the database pool last; everything above may still have been
	// writing audit records while draining.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All triage components shut down.")
}
