// internal/engine/engine.go

// Package engine distributes triage tasks to a pool of pipeline workers. The
// queue is bounded; submission is non-blocking and reports back-pressure to
// the caller instead of stalling ingress.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// minWorkers is the floor the worker count is raised to.
const minWorkers = 10

// ErrQueueFull is returned by Submit when the task buffer has no room.
var ErrQueueFull = errors.New("triage queue is full")

// ErrNotRunning is returned by Submit outside a Start/Stop window.
var ErrNotRunning = errors.New("triage engine is not running")

// Runner executes one triage run. The pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, report schemas.BugReport) (*schemas.TriageResult, error)
}

// Engine manages the worker pool consuming the task queue.
type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger
	runner Runner

	wg    sync.WaitGroup
	newID func() string
	now   func() time.Time

	// stateLock protects the running state and guards task-channel lifecycle
	// against Submit racing Stop.
	stateLock sync.Mutex
	isRunning bool
	tasks     chan schemas.TriageTask
}

// New validates dependencies and builds an engine. Worker and queue settings
// below their documented minimums are raised, not rejected.
func New(cfg config.EngineConfig, logger *zap.Logger, runner Runner) (*Engine, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < minWorkers {
		cfg.Workers = minWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.Named("engine"),
		runner: runner,
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}, nil
}

// Start launches the worker pool. Re-entrant calls are ignored.
func (e *Engine) Start(ctx context.Context) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("Engine.Start called while already running")
		return
	}
	e.isRunning = true
	e.tasks = make(chan schemas.TriageTask, e.cfg.QueueSize)
	tasks := e.tasks
	e.stateLock.Unlock()

	e.logger.Info("Starting triage worker pool",
		zap.Int("workers", e.cfg.Workers),
		zap.Int("queue_size", e.cfg.QueueSize))

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, tasks)
	}
}

// Submit enqueues one report without blocking. The returned task id is echoed
// to the webhook caller for correlation.
func (e *Engine) Submit(report schemas.BugReport) (string, error) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if !e.isRunning {
		return "", ErrNotRunning
	}
	task := schemas.TriageTask{
		TaskID:     e.newID(),
		Report:     report,
		EnqueuedAt: e.now(),
	}
	select {
	case e.tasks <- task:
		e.logger.Debug("Task enqueued",
			zap.String("task_id", task.TaskID),
			zap.String("issue_id", report.IssueID))
		return task.TaskID, nil
	default:
		e.logger.Warn("Task rejected, queue full",
			zap.String("issue_id", report.IssueID),
			zap.Int("queue_size", e.cfg.QueueSize))
		return "", fmt.Errorf("%w (size %d)", ErrQueueFull, e.cfg.QueueSize)
	}
}

// Stop closes the queue and waits for workers to drain it.
func (e *Engine) Stop() {
	e.stateLock.Lock()
	if !e.isRunning {
		e.stateLock.Unlock()
		return
	}
	e.isRunning = false
	close(e.tasks)
	e.stateLock.Unlock()

	e.logger.Info("Stopping triage engine, draining queue")
	e.wg.Wait()
	e.logger.Info("Triage engine stopped")
}

// runWorker is the loop for one worker goroutine. Context cancellation stops
// it immediately; a closed queue stops it after the drain.
func (e *Engine) runWorker(ctx context.Context, workerID int, tasks <-chan schemas.TriageTask) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down", zap.Error(ctx.Err()))
			return
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Queue closed and drained, worker shutting down")
				return
			}
			e.process(ctx, task, logger)
		}
	}
}

// process runs one task under the per-task timeout. The pipeline owns
// persistence and side effects; the engine only reports the outcome.
func (e *Engine) process(ctx context.Context, task schemas.TriageTask, logger *zap.Logger) {
	if ctx.Err() != nil {
		logger.Warn("Context cancelled before task started",
			zap.String("task_id", task.TaskID), zap.Error(ctx.Err()))
		return
	}

	logger.Info("Processing triage task",
		zap.String("task_id", task.TaskID),
		zap.String("issue_id", task.Report.IssueID),
		zap.Duration("queued_for", e.now().Sub(task.EnqueuedAt)))

	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	result, err := e.runner.Run(taskCtx, task.Report)
	if err != nil {
		logger.Error("Triage task failed",
			zap.String("task_id", task.TaskID),
			zap.String("issue_id", task.Report.IssueID),
			zap.Error(err))
		return
	}
	logger.Info("Triage task complete",
		zap.String("task_id", task.TaskID),
		zap.String("issue_id", task.Report.IssueID),
		zap.String("assignee", result.Decision.AssigneeID),
		zap.Bool("routed_to_human", result.Decision.RoutedToHuman),
		zap.Int64("processing_ms", result.ProcessingMS))
}
