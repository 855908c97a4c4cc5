// Package transcript writes per-session CSV transcripts of practice sessions.
//
// Writes are queued to a background worker so HTTP handlers never block on
// disk. Logging is best-effort: a full queue drops the row with a warning.
package transcript

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// csvHeader matches the long-standing transcript export layout: the trainee's
// message, the simulated customer's answer, and the coach's advice.
var csvHeader = []string{"Human message", "AI respond", "AI assistant respond"}

// Row is one completed exchange appended to a session's transcript.
type Row struct {
	SessionID string
	UserText  string
	ReplyText string
	Advice    string
}

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger appends exchange rows to per-session transcript files.
type Logger interface {
	// LogTurn queues one row for writing. Never blocks.
	LogTurn(row Row)

	// Close drains the queue and stops the worker.
	Close() error
}

// NewLogger returns a CSV logger, or a noop logger when disabled.
func NewLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &CSVLogger{
		dir:    cfg.Dir,
		queue:  make(chan Row, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	l.wg.Add(1)
	go l.processQueue()

	return l, nil
}

// CSVLogger writes rows to <dir>/<sessionID>.csv with a header on first write.
type CSVLogger struct {
	dir    string
	queue  chan Row
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// LogTurn queues one row for writing. Never blocks: when the queue is full
// the row is dropped and a warning is logged.
func (l *CSVLogger) LogTurn(row Row) {
	select {
	case l.queue <- row:
	case <-l.ctx.Done():
		l.logger.Debug("transcript logger closed, dropping row", "session_id", row.SessionID)
	default:
		l.logger.Warn("transcript queue full, dropping row",
			"session_id", row.SessionID,
			"queue_len", len(l.queue))
	}
}

func (l *CSVLogger) processQueue() {
	defer l.wg.Done()

	for {
		select {
		case row := <-l.queue:
			if err := l.writeRow(row); err != nil {
				l.logger.Warn("transcript write failed",
					"session_id", row.SessionID,
					"error", err)
			}

		case <-l.ctx.Done():
			// Drain whatever is already queued before stopping.
			for {
				select {
				case row := <-l.queue:
					if err := l.writeRow(row); err != nil {
						l.logger.Warn("transcript write failed during drain",
							"session_id", row.SessionID,
							"error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (l *CSVLogger) writeRow(row Row) error {
	path := filepath.Join(l.dir, row.SessionID+".csv")

	info, statErr := os.Stat(path)
	isNew := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write transcript header: %w", err)
		}
	}
	if err := w.Write([]string{row.UserText, row.ReplyText, row.Advice}); err != nil {
		return fmt.Errorf("write transcript row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush transcript row: %w", err)
	}
	return nil
}

// Close drains the queue and stops the worker.
func (l *CSVLogger) Close() error {
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("transcript worker shutdown timeout", "queue_remaining", len(l.queue))
	}

	return nil
}

type noopLogger struct{}

func (noopLogger) LogTurn(Row) {}

func (noopLogger) Close() error { return nil }
