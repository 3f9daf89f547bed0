// internal/ingest/watcher.go
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// flushInterval ends a buffered traceback when no continuation line arrives
// in time.
const flushInterval = 250 * time.Millisecond

var (
	// traceStartPattern opens a traceback block.
	traceStartPattern = regexp.MustCompile(`(Traceback \(most recent call last\):|^Exception in thread |^panic: |Unhandled(Promise)?Rejection)`)
	// errorLinePattern matches a bare error line, which both opens a block on
	// its own and titles crash reports.
	errorLinePattern = regexp.MustCompile(`^[A-Za-z_][\w.$]*(Error|Exception)\b[:\s]`)
	// continuationPattern keeps a block open: indented frames, JS/Java `at`
	// lines, Python `File` lines, chained-cause markers.
	continuationPattern = regexp.MustCompile(`^(\s+|at |Caused by:|During handling of the above exception)`)
	// logEntryPattern marks the start of an ordinary log record, terminating
	// any open block.
	logEntryPattern = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2}|\{|\[?(INFO|WARN|WARNING|ERROR|DEBUG|TRACE)\]?\b)`)
)

// Watcher tails a crash log, buffers multi-line traceback blocks, and emits
// one BugReport per block. It acts as a state machine over the line stream so
// interleaved ordinary log records terminate blocks cleanly.
type Watcher struct {
	logger  *zap.Logger
	cfg     config.WatchConfig
	adapter *CrashLogAdapter
	reports chan<- schemas.BugReport
}

// NewWatcher builds a watcher that sends detected reports to the given
// channel.
func NewWatcher(cfg config.WatchConfig, reports chan<- schemas.BugReport, logger *zap.Logger) (*Watcher, error) {
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("watch.log_path must be configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		logger:  logger.Named("watcher"),
		cfg:     cfg,
		adapter: NewCrashLogAdapter(),
		reports: reports,
	}, nil
}

// Start begins tailing. The monitor goroutine runs until ctx is cancelled or
// the tailer closes.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting crash log watcher", zap.String("log_path", w.cfg.LogPath))

	location := &tail.SeekInfo{Offset: 0, Whence: 2}
	if w.cfg.FromStart {
		location = nil
	}
	t, err := tail.TailFile(w.cfg.LogPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      true,
		Location:  location,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail crash log: %w", err)
	}

	go w.monitorLoop(ctx, t)
	return nil
}

// monitorLoop buffers traceback lines and flushes a block when a new log
// record starts or the flush timer fires.
func (w *Watcher) monitorLoop(ctx context.Context, t *tail.Tail) {
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	var block []string
	timeout := time.NewTimer(flushInterval)
	if !timeout.Stop() {
		<-timeout.C
	}

	stopTimer := func() {
		if !timeout.Stop() {
			select {
			case <-timeout.C:
			default:
			}
		}
	}

	flush := func() {
		if len(block) == 0 {
			return
		}
		w.emit(ctx, strings.Join(block, "\n"))
		block = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			w.logger.Info("Stopping crash log watcher")
			return

		case line, ok := <-t.Lines:
			if !ok {
				flush()
				w.logger.Info("Crash log tailer closed")
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading crash log", zap.Error(line.Err))
				continue
			}

			text := line.Text
			switch {
			case len(block) == 0:
				if traceStartPattern.MatchString(text) || errorLinePattern.MatchString(text) {
					block = append(block, text)
					timeout.Reset(flushInterval)
				}
			case logEntryPattern.MatchString(text) && !continuationPattern.MatchString(text):
				// An ordinary log record ends the block.
				stopTimer()
				flush()
				if traceStartPattern.MatchString(text) {
					block = append(block, text)
					timeout.Reset(flushInterval)
				}
			default:
				block = append(block, text)
				timeout.Reset(flushInterval)
			}

		case <-timeout.C:
			flush()
		}
	}
}

// emit normalizes one block and sends the report.
func (w *Watcher) emit(ctx context.Context, block string) {
	reports, err := w.adapter.Normalize([]byte(block))
	if err != nil {
		w.logger.Warn("Discarding unusable crash block", zap.Error(err))
		return
	}
	for _, report := range reports {
		w.logger.Info("Crash detected",
			zap.String("issue_id", report.IssueID),
			zap.String("title", report.Title))
		select {
		case w.reports <- report:
		case <-ctx.Done():
			w.logger.Warn("Context cancelled while delivering crash report",
				zap.String("issue_id", report.IssueID))
			return
		}
	}
}
