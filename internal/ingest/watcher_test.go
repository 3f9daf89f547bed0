// internal/ingest/watcher_test.go
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

func appendLines(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func waitForReport(t *testing.T, reports <-chan schemas.BugReport) schemas.BugReport {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for crash report")
		return schemas.BugReport{}
	}
}

func TestNewWatcher_RequiresLogPath(t *testing.T) {
	t.Parallel()
	_, err := NewWatcher(config.WatchConfig{}, make(chan schemas.BugReport), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestWatcher_EmitsBufferedTraceback(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("2026-03-01 INFO boot ok\n"), 0o644))

	reports := make(chan schemas.BugReport, 4)
	w, err := NewWatcher(config.WatchConfig{LogPath: logPath}, reports, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Let the tailer reach the end of the file before appending.
	time.Sleep(500 * time.Millisecond)

	appendLines(t, logPath, `Traceback (most recent call last):
  File "app/config.py", line 88, in load
    return parse(data)
KeyError: 'retry_count'
`)

	report := waitForReport(t, reports)
	assert.Equal(t, schemas.SourceCrashLog, report.Source)
	assert.Equal(t, "KeyError: 'retry_count'", report.Title)
	assert.Contains(t, report.Body, `File "app/config.py", line 88, in load`)
}

func TestWatcher_OrdinaryLogRecordEndsBlock(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte(""), 0o644))

	reports := make(chan schemas.BugReport, 4)
	w, err := NewWatcher(config.WatchConfig{LogPath: logPath, FromStart: true}, reports, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	appendLines(t, logPath, `Traceback (most recent call last):
  File "app/main.py", line 12, in start
ValueError: bad state
2026-03-01 INFO recovered, continuing
`)

	report := waitForReport(t, reports)
	assert.Contains(t, report.Body, "ValueError: bad state")
	assert.NotContains(t, report.Body, "recovered, continuing")

	// No second report from the INFO line.
	select {
	case extra := <-reports:
		t.Fatalf("unexpected extra report: %q", extra.Title)
	case <-time.After(time.Second):
	}
}
