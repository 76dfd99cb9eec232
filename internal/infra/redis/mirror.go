package redis

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/tailwatch/internal/indexing/metrics"
)

// Publisher stores a serialized state snapshot.
type Publisher interface {
	PutState(ctx context.Context, data []byte) error
}

// Mirror publishes state snapshots in the background. Only the most recent
// snapshot is kept; older ones still waiting are dropped.
type Mirror struct {
	pub     Publisher
	pending chan []byte
	timeout time.Duration
	log     *slog.Logger
}

// NewMirror creates a mirror writing through pub.
func NewMirror(pub Publisher, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		pub:     pub,
		pending: make(chan []byte, 1),
		timeout: 2 * time.Second,
		log:     log.With("component", "mirror"),
	}
}

// Offer queues data for publishing without blocking. It matches the state
// store save hook signature.
func (m *Mirror) Offer(data []byte) {
	data = bytes.Clone(data)
	for {
		select {
		case m.pending <- data:
			return
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run publishes offered snapshots until ctx is cancelled, then flushes the
// last pending one.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			select {
			case data := <-m.pending:
				m.publish(context.Background(), data)
			default:
			}
			return nil
		case data := <-m.pending:
			m.publish(ctx, data)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.pub.PutState(ctx, data); err != nil {
		metrics.MirrorPublishes.WithLabelValues("error").Inc()
		m.log.Warn("Failed to publish state", "error", err)
		return
	}
	metrics.MirrorPublishes.WithLabelValues("ok").Inc()
}
