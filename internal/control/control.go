package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// WriterConsumer copies every tailed line to w, one per line.
type WriterConsumer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterConsumer creates a consumer writing to w.
func NewWriterConsumer(w io.Writer) *WriterConsumer {
	return &WriterConsumer{w: w}
}

// Consume implements tailer.LineHandler.
func (c *WriterConsumer) Consume(ctx context.Context, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// LogConsumer logs every tailed line at debug level.
type LogConsumer struct {
	log *slog.Logger
}

// NewLogConsumer creates a consumer logging through log.
func NewLogConsumer(log *slog.Logger) *LogConsumer {
	if log == nil {
		log = slog.Default()
	}
	return &LogConsumer{log: log.With("component", "consumer")}
}

// Consume implements tailer.LineHandler.
func (c *LogConsumer) Consume(ctx context.Context, line string) error {
	c.log.DebugContext(ctx, "Line", "text", line)
	return nil
}
