package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrLoggerClosed is returned when a record arrives after Close.
var ErrLoggerClosed = errors.New("audit logger is closed")

// LoggerConfig configures the structured audit logger.
type LoggerConfig struct {
	// Output receives JSON audit lines. Required.
	Output io.Writer

	// BufferSize is the async buffer depth. Default: 256. When the buffer
	// is full records are dropped, since audit writes must never stall a
	// permission decision.
	BufferSize int
}

// Logger writes decision records as structured JSON lines. Writes are
// buffered and drained by a background goroutine so callers never block on
// I/O.
type Logger struct {
	slogger *slog.Logger
	buffer  chan DecisionRecord
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewLogger creates an audit logger draining to config.Output.
func NewLogger(config LoggerConfig) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	l := &Logger{
		slogger: slog.New(slog.NewJSONHandler(config.Output, nil)),
		buffer:  make(chan DecisionRecord, config.BufferSize),
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// RecordDecision queues a decision record for writing. The enqueue happens
// under the mutex that Close takes before closing the buffer, so a record
// can never race into a closed channel; the send itself never blocks.
func (l *Logger) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLoggerClosed
	}
	select {
	case l.buffer <- rec:
	default:
		// Buffer full: drop rather than stall the permission path.
	}
	return nil
}

// Close flushes buffered records and stops the drain goroutine.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.buffer)
	l.wg.Wait()
	return nil
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for rec := range l.buffer {
		l.write(rec)
	}
}

func (l *Logger) write(rec DecisionRecord) {
	attrs := []any{
		"decision_id", rec.ID,
		"session_id", rec.SessionID,
		"tool", rec.Tool,
		"allowed", rec.Allowed,
		"cached", rec.Cached,
		"time", rec.CreatedAt,
	}
	if rec.Reason != "" {
		attrs = append(attrs, "reason", rec.Reason)
	}
	if rec.Interrupt {
		attrs = append(attrs, "interrupt", true)
	}
	if len(rec.Input) > 0 {
		attrs = append(attrs, "input", string(rec.Input))
	}
	if rec.Allowed {
		l.slogger.Info("permission.granted", attrs...)
	} else {
		l.slogger.Warn("permission.denied", attrs...)
	}
}
