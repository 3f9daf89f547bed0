// internal/webhook/server.go

// Package webhook is the HTTP ingress: GitHub issue events come in, get
// normalized and queued, and decisions can be read back. Duplicate deliveries
// of the same issue inside the configured window are acknowledged without a
// second task.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/engine"
	"github.com/xkilldash9x/mahoraga/internal/ingest"
)

// maxPayloadBytes caps webhook request bodies.
const maxPayloadBytes = 1 << 20

// TaskSubmitter enqueues normalized reports. The engine satisfies it.
type TaskSubmitter interface {
	Submit(report schemas.BugReport) (string, error)
}

// Server is the webhook ingress.
type Server struct {
	logger   *zap.Logger
	cfg      config.ServerConfig
	registry *ingest.Registry
	engine   TaskSubmitter
	store    schemas.TriageStore

	httpServer *http.Server
	now        func() time.Time

	// seen tracks recent issue ids for duplicate suppression.
	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewServer wires the ingress to its collaborators.
func NewServer(cfg config.ServerConfig, registry *ingest.Registry, submitter TaskSubmitter, store schemas.TriageStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 10 * time.Minute
	}
	s := &Server{
		logger:   logger.Named("webhook"),
		cfg:      cfg,
		registry: registry,
		engine:   submitter,
		store:    store,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	return s
}

// Handler builds the chi router. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Post("/webhook/github", s.handleGithubEvent)
	r.Get("/api/v1/decisions/{issueID}", s.handleGetDecisions)
	r.Get("/healthz", s.handleHealthz)
	return r
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.logger.Info("Webhook server listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleGithubEvent normalizes an issues event and queues a triage task.
func (s *Server) handleGithubEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	reports, err := s.registry.Normalize(schemas.SourceGithubIssue, payload)
	if err != nil {
		s.logger.Warn("Rejected malformed webhook payload", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reports) == 0 {
		s.writeJSON(w, http.StatusAccepted, map[string]any{"ignored": true})
		return
	}

	report := reports[0]
	if !s.markSeen(report.IssueID) {
		s.logger.Info("Duplicate delivery suppressed",
			zap.String("issue_id", report.IssueID),
			zap.Duration("window", s.cfg.DuplicateWindow))
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"issue_id":  report.IssueID,
			"duplicate": true,
		})
		return
	}

	taskID, err := s.engine.Submit(report)
	if err != nil {
		// The suppression mark must not burn the issue's slot when nothing
		// was queued.
		s.unmark(report.IssueID)
		if errors.Is(err, engine.ErrQueueFull) {
			s.writeError(w, http.StatusServiceUnavailable, "triage queue is full, retry later")
			return
		}
		s.logger.Error("Task submission failed", zap.String("issue_id", report.IssueID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to queue triage task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"issue_id": report.IssueID,
		"task_id":  taskID,
	})
}

// handleGetDecisions returns the recorded decisions for an issue, newest
// first.
func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	issueID, err := url.PathUnescape(chi.URLParam(r, "issueID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed issue id")
		return
	}
	decisions, err := s.store.FindDecisionsByIssue(r.Context(), issueID)
	if err != nil {
		s.logger.Error("Decision read failed", zap.String("issue_id", issueID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	if len(decisions) == 0 {
		s.writeError(w, http.StatusNotFound, "no decisions recorded for issue")
		return
	}
	s.writeJSON(w, http.StatusOK, decisions)
}

// handleHealthz reports store connectivity.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "store": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// markSeen records a delivery and reports whether it is the first inside the
// window. Expired entries are pruned on the way through.
func (s *Server) markSeen(issueID string) bool {
	now := s.now()
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	for id, at := range s.seen {
		if now.Sub(at) >= s.cfg.DuplicateWindow {
			delete(s.seen, id)
		}
	}
	if at, ok := s.seen[issueID]; ok && now.Sub(at) < s.cfg.DuplicateWindow {
		return false
	}
	s.seen[issueID] = now
	return true
}

func (s *Server) unmark(issueID string) {
	s.seenMu.Lock()
	delete(s.seen, issueID)
	s.seenMu.Unlock()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}
