// internal/service/factory.go

// Package service wires configuration into a running component graph: store,
// history provider, LLM stack, the five pipeline stages, the worker engine,
// and the webhook ingress. Partial initialization failures shut down whatever
// was already built.
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/analyzer"
	"github.com/xkilldash9x/mahoraga/internal/assignment"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/draftfix"
	"github.com/xkilldash9x/mahoraga/internal/engine"
	"github.com/xkilldash9x/mahoraga/internal/expertise"
	"github.com/xkilldash9x/mahoraga/internal/githistory"
	"github.com/xkilldash9x/mahoraga/internal/githost"
	"github.com/xkilldash9x/mahoraga/internal/ingest"
	"github.com/xkilldash9x/mahoraga/internal/llmclient"
	"github.com/xkilldash9x/mahoraga/internal/notify"
	"github.com/xkilldash9x/mahoraga/internal/pipeline"
	"github.com/xkilldash9x/mahoraga/internal/store"
	"github.com/xkilldash9x/mahoraga/internal/trace"
	"github.com/xkilldash9x/mahoraga/internal/webhook"
)

// Build performs the full dependency injection for a triage deployment. An
// empty database URL selects the in-memory store; missing GitHub or Slack
// credentials select the logging fallbacks so a bare config still triages.
func Build(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.",
				zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Store.
	if url := cfg.Database().URL; url != "" {
		dbPool, err := pgxpool.New(ctx, url)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		// Add to components immediately so the deferred Shutdown can close it
		// if later steps fail.
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			initializationErr = fmt.Errorf("failed to ensure database schema: %w", err)
			return nil, initializationErr
		}
		components.Store = dbStore
		logger.Debug("Database store initialized.")
	} else {
		components.Store = store.NewMemoryStore(logger)
		logger.Info("No database URL configured, using in-memory store " +
			"(hint: set MAHORAGA_DATABASE_URL for persistence)")
	}

	// 2. Routing policy, with the runtime threshold override from the store.
	triageCfg := resolveTriagePolicy(ctx, components.Store, cfg.Triage(), logger)

	// 3. Git history provider.
	history, err := githistory.NewProvider(cfg.Repo().Path, cfg.Expertise(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open repository for expertise scoring: %w", err)
		return nil, initializationErr
	}
	components.History = history
	logger.Debug("Git history provider initialized.", zap.String("repo", cfg.Repo().Path))

	// 4. LLM client stack. A missing API key degrades analysis instead of
	// blocking startup; the pipeline routes to a human at confidence zero.
	if cfg.LLM().APIKey == "" {
		logger.Warn("No LLM API key configured, analysis will degrade to human routing " +
			"(hint: set MAHORAGA_GEMINI_API_KEY)")
		components.LLM = unconfiguredLLM{}
	} else {
		llm, err := llmclient.NewClient(ctx, cfg.LLM(), logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize LLM client: %w", err)
			return nil, initializationErr
		}
		components.LLM = llm
		logger.Debug("LLM client initialized.", zap.String("provider", string(cfg.LLM().Provider)))
	}

	// 5. Pipeline stages.
	scorer := expertise.NewScorer(cfg.Expertise())
	cache := expertise.NewCache(
		cfg.Expertise().CacheTTL,
		newExpertiseLoader(components.Store, history, scorer, cfg.Expertise(), logger),
		logger,
	)
	extractor := analyzer.NewContextExtractor(logger, history, cfg.Analyzer().ContextLines)
	llmAnalyzer := analyzer.NewAnalyzer(logger, components.LLM, cfg.Analyzer())
	decider := assignment.NewDecider(logger, triageCfg)
	generator := draftfix.NewGenerator(logger, components.LLM, cfg.DraftFix())

	// 6. Side-effect collaborators.
	components.Notifier = buildNotifier(cfg.Slack(), logger)
	components.Host, err = buildHost(cfg.GitHub(), components.Store, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize code host client: %w", err)
		return nil, initializationErr
	}

	components.Pipeline = pipeline.New(pipeline.Deps{
		Logger:    logger,
		Parser:    trace.NewParser(),
		Expertise: cache,
		Extractor: extractor,
		Analyzer:  llmAnalyzer,
		Decider:   decider,
		Generator: generator,
		History:   history,
		Store:     components.Store,
		Notifier:  components.Notifier,
		Host:      components.Host,
	})
	logger.Debug("Triage pipeline assembled.")

	// 7. Worker engine.
	components.Engine, err = engine.New(cfg.Engine(), logger, components.Pipeline)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize triage engine: %w", err)
		return nil, initializationErr
	}

	// 8. Ingress.
	components.Registry = ingest.NewRegistry(logger)
	components.Webhook = webhook.NewServer(cfg.Server(), components.Registry, components.Engine, components.Store, logger)

	logger.Info("All triage components initialized successfully.")
	return components, nil
}

// resolveTriagePolicy overlays the runtime-tunable confidence threshold from
// the store onto the static config. Unreadable or unparsable values keep the
// configured default.
func resolveTriagePolicy(ctx context.Context, st schemas.TriageStore, cfg config.TriageConfig, logger *zap.Logger) config.TriageConfig {
	value, ok, err := st.GetConfigValue(ctx, schemas.ConfigKeyConfidenceThreshold)
	if err != nil {
		logger.Warn("Failed to read runtime confidence threshold, keeping configured value",
			zap.Float64("configured", cfg.ConfidenceThreshold), zap.Error(err))
		return cfg
	}
	if !ok {
		return cfg
	}
	threshold, err := strconv.ParseFloat(value, 64)
	if err != nil || threshold < 0 || threshold > 100 {
		logger.Warn("Ignoring malformed runtime confidence threshold",
			zap.String("value", value), zap.Error(err))
		return cfg
	}
	logger.Info("Runtime confidence threshold override active",
		zap.Float64("configured", cfg.ConfidenceThreshold),
		zap.Float64("override", threshold))
	cfg.ConfidenceThreshold = threshold
	return cfg
}

// newExpertiseLoader composes the cold path behind the expertise cache: read
// the persisted ranking when it is still fresh, otherwise recompute from git
// history and the developer registry and write the result back.
func newExpertiseLoader(st schemas.TriageStore, history schemas.HistoryProvider, scorer *expertise.Scorer, cfg config.ExpertiseConfig, logger *zap.Logger) expertise.Loader {
	log := logger.Named("expertise-loader")
	return func(ctx context.Context, filePath string) ([]schemas.ExpertiseScore, error) {
		if scores, computedAt, err := st.GetExpertise(ctx, filePath); err == nil &&
			len(scores) > 0 && time.Since(computedAt) < cfg.CacheTTL {
			return scores, nil
		}

		fileHistory, err := history.FileHistory(ctx, filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read history for %s: %w", filePath, err)
		}

		users, err := st.ListUsers(ctx)
		if err != nil {
			log.Warn("Developer registry unavailable, scoring on history alone", zap.Error(err))
			users = nil
		}
		registry := make(map[string]schemas.User, len(users))
		for _, u := range users {
			registry[u.GitEmail] = u
		}

		scores := scorer.Score(fileHistory, registry)

		// Persisting is best effort; the in-memory cache already has the
		// result either way.
		if err := st.UpsertExpertise(ctx, filePath, scores, time.Now().UTC()); err != nil {
			log.Warn("Failed to persist expertise scores",
				zap.String("file_path", filePath), zap.Error(err))
		}
		return scores, nil
	}
}

// buildNotifier selects Slack when it is enabled with a credential, and the
// logging notifier otherwise.
func buildNotifier(cfg config.SlackConfig, logger *zap.Logger) schemas.Notifier {
	if cfg.Enabled && (cfg.BotToken != "" || cfg.WebhookURL != "") {
		logger.Debug("Slack notifier initialized.", zap.String("channel", cfg.Channel))
		return notify.NewSlackNotifier(cfg, logger)
	}
	logger.Info("Slack not configured, triage outcomes will only be logged")
	return notify.NewLogNotifier(logger)
}

// buildHost selects the real GitHub client when credentials are present and
// the no-op host otherwise.
func buildHost(cfg config.GitHubConfig, directory githost.UserDirectory, logger *zap.Logger) (schemas.CodeHost, error) {
	if !cfg.HasCredentials() {
		logger.Info("No GitHub credentials configured, tracker side effects disabled")
		return githost.NewNoopHost(logger), nil
	}
	return githost.NewHost(cfg, directory, logger)
}

// unconfiguredLLM stands in when no API key is present. Every call fails as
// an external dependency error, which the analyzer turns into a degraded,
// human-routed analysis.
type unconfiguredLLM struct{}

func (unconfiguredLLM) Generate(context.Context, schemas.GenerationRequest) (string, error) {
	return "", fmt.Errorf("%w: llm api key is not configured", schemas.ErrExternalDependency)
}

func (unconfiguredLLM) Close() error { return nil }
