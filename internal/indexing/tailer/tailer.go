// Package tailer follows a single append-only log file across rotations and
// I/O failures.
//
// The read loop is sequential: open, read until EOF, checkpoint, check for
// rotation, sleep, repeat. Every failure is handed to the recovery engine and
// the returned action decides whether the loop retries, backs off, restarts,
// waits out an open circuit breaker or terminates with ErrFatal.
//
// Delivery is at-least-once. The persisted offset only covers lines the
// consumer accepted, so a crash may replay lines delivered after the last
// checkpoint.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/indexing/metrics"
	"github.com/vietddude/tailwatch/internal/indexing/recovery"
)

// ErrFatal wraps the failure that ended the tail loop.
var ErrFatal = errors.New("fatal tailer error")

// errStop signals that the consumer stopped ranging over Lines.
var errStop = errors.New("consumer stopped")

// LineHandler consumes one line. A non-nil error stops Run.
type LineHandler func(ctx context.Context, line string) error

// Checkpointer is the part of the state store the tailer writes to.
type Checkpointer interface {
	FilePosition() (uint64, *uint64)
	// HasFilePosition is false while the offset is only the default.
	HasFilePosition() bool
	UpdateFilePosition(position uint64, inode *uint64)
	Save() bool
}

// Recoverer turns failures into recovery decisions.
type Recoverer interface {
	Handle(err error, component string) recovery.Decision
	RecordSuccess(component string)
	IsOpen(component string) bool
}

// Config controls the read loop.
type Config struct {
	Path      string `yaml:"path"`
	Component string `yaml:"component"`

	PollInterval        time.Duration `yaml:"poll_interval"`
	MissingFileInterval time.Duration `yaml:"missing_file_interval"`
	RestartPause        time.Duration `yaml:"restart_pause"`
	CircuitPause        time.Duration `yaml:"circuit_pause"`

	// RotationSlack tolerates a file that is slightly shorter than the read
	// offset before treating it as truncated.
	RotationSlack int64 `yaml:"rotation_slack"`

	CheckpointLines int   `yaml:"checkpoint_lines"`
	CheckpointBytes int64 `yaml:"checkpoint_bytes"`

	// ReadRotatedFromStart reads a file found after rotation from byte 0.
	ReadRotatedFromStart bool `yaml:"read_rotated_from_start"`
}

// DefaultConfig returns the stock loop settings for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:                 path,
		Component:            "tailer",
		PollInterval:         100 * time.Millisecond,
		MissingFileInterval:  1 * time.Second,
		RestartPause:         2 * time.Second,
		CircuitPause:         10 * time.Second,
		RotationSlack:        1000,
		CheckpointLines:      50,
		CheckpointBytes:      64 * 1024,
		ReadRotatedFromStart: true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Path)
	if c.Component == "" {
		c.Component = def.Component
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MissingFileInterval <= 0 {
		c.MissingFileInterval = def.MissingFileInterval
	}
	if c.RestartPause <= 0 {
		c.RestartPause = def.RestartPause
	}
	if c.CircuitPause <= 0 {
		c.CircuitPause = def.CircuitPause
	}
	if c.RotationSlack < 0 {
		c.RotationSlack = 0
	}
	if c.CheckpointLines <= 0 {
		c.CheckpointLines = def.CheckpointLines
	}
	if c.CheckpointBytes <= 0 {
		c.CheckpointBytes = def.CheckpointBytes
	}
	return c
}

// State is what the loop is currently doing.
type State string

const (
	StateWaiting  State = "waiting"
	StateTailing  State = "tailing"
	StateBackoff  State = "backoff"
	StateCooldown State = "cooldown"
	StateStopped  State = "stopped"
)

// Status is a point-in-time view of the tailer for health reporting.
type Status struct {
	State      State     `json:"state"`
	Path       string    `json:"path"`
	Offset     uint64    `json:"offset"`
	Inode      *uint64   `json:"inode,omitempty"`
	LinesRead  uint64    `json:"lines_read"`
	Rotations  uint64    `json:"rotations"`
	LastLineAt time.Time `json:"last_line_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	LastAction string    `json:"last_action,omitempty"`
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithFS replaces the filesystem.
func WithFS(fsys FS) Option {
	return func(t *Tailer) { t.fs = fsys }
}

// WithSleep replaces the cancellable sleep used for every wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tailer) { t.sleep = fn }
}

// Tailer follows one file. It is not safe for concurrent Run calls; Status
// may be called from any goroutine.
type Tailer struct {
	cfg    Config
	fs     FS
	store  Checkpointer
	engine Recoverer
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	log    *slog.Logger

	h       *handle
	rotated bool

	unsavedLines int
	unsavedBytes int64

	mu     sync.RWMutex
	status Status
}

// New creates a tailer for cfg.Path. Call Run or range over Lines to start.
func New(cfg Config, store Checkpointer, engine Recoverer, log *slog.Logger, opts ...Option) *Tailer {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	t := &Tailer{
		cfg:    cfg,
		fs:     OSFS{},
		store:  store,
		engine: engine,
		sleep:  sleepContext,
		now:    time.Now,
		log:    log.With("component", cfg.Component, "path", cfg.Path),
		status: Status{State: StateStopped, Path: cfg.Path},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run delivers lines to handler until ctx is cancelled, the handler fails or
// recovery gives up. Cancellation returns nil.
func (t *Tailer) Run(ctx context.Context, handler LineHandler) error {
	for line, err := range t.Lines(ctx) {
		if err != nil {
			return err
		}
		if err := handler(ctx, line); err != nil {
			return fmt.Errorf("failed to handle line: %w", err)
		}
	}
	return nil
}

// Lines returns the unbounded sequence of lines. The sequence ends when ctx
// is cancelled or, after yielding an ErrFatal error, when recovery gives up.
// The file handle is closed and the offset persisted when it ends.
//
// Breaking out of the range does not confirm the line being processed, so
// ranging again on the same Tailer delivers it first.
func (t *Tailer) Lines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer t.Close()
		if err := t.loop(ctx, yield); err != nil {
			yield("", err)
		}
	}
}

func (t *Tailer) loop(ctx context.Context, yield func(string, error) bool) error {
	t.log.Info("Starting tail loop")

	if err := t.awaitBreaker(ctx); err != nil {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := t.step(ctx, yield)
		if err == nil {
			continue
		}
		if errors.Is(err, errStop) || ctx.Err() != nil {
			return nil
		}

		d := t.engine.Handle(err, t.cfg.Component)
		t.recordFailure(err, d)
		if err := t.apply(ctx, d, err); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// step runs one open → read → rotation check → poll cycle.
func (t *Tailer) step(ctx context.Context, yield func(string, error) bool) error {
	if t.h == nil {
		if _, err := t.fs.Stat(t.cfg.Path); errors.Is(err, fs.ErrNotExist) {
			if t.setState(StateWaiting) {
				t.log.Info("Waiting for log file")
			}
			return t.sleep(ctx, t.cfg.MissingFileInterval)
		}
		if err := t.Open(); err != nil {
			return err
		}
	}
	t.setState(StateTailing)

	if err := t.readLines(ctx, yield); err != nil {
		return err
	}
	t.markHealthy()
	t.idleCheckpoint()

	if t.DetectRotation() {
		// Drain whatever was appended to the old file before it was replaced.
		if err := t.readLines(ctx, yield); err != nil {
			return err
		}
		t.rotate()
		return nil
	}
	return t.sleep(ctx, t.cfg.PollInterval)
}

// apply carries out a recovery decision.
func (t *Tailer) apply(ctx context.Context, d recovery.Decision, cause error) error {
	switch d.Action {
	case recovery.ActionRetryImmediate:
		t.closeHandle()
		return nil
	case recovery.ActionRetryWithBackoff:
		t.closeHandle()
		t.setState(StateBackoff)
		t.log.Info("Backing off before retry", "delay", d.Delay, "attempt", d.Attempt)
		return t.sleep(ctx, d.Delay)
	case recovery.ActionRestartComponent:
		t.closeHandle()
		t.setState(StateBackoff)
		t.log.Warn("Restarting tailer", "pause", t.cfg.RestartPause)
		t.rotated = false
		return t.sleep(ctx, t.cfg.RestartPause)
	case recovery.ActionCircuitBreaker:
		return t.awaitBreaker(ctx)
	case recovery.ActionFatalExit:
		t.log.Error("Giving up on log file", "kind", d.Kind, "error", cause)
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrFatal, d.Kind, d.Attempt, cause)
	default:
		panic(fmt.Sprintf("tailer: unhandled recovery action %s", d.Action))
	}
}

// awaitBreaker blocks while the breaker is open, polling every CircuitPause.
// It returns once the breaker is closed or grants a half-open trial.
func (t *Tailer) awaitBreaker(ctx context.Context) error {
	if !t.engine.IsOpen(t.cfg.Component) {
		return nil
	}
	t.setState(StateCooldown)
	t.log.Warn("Circuit breaker open, pausing file operations", "poll", t.cfg.CircuitPause)

	for {
		if err := t.sleep(ctx, t.cfg.CircuitPause); err != nil {
			return err
		}
		if !t.engine.IsOpen(t.cfg.Component) {
			t.log.Info("Circuit breaker allows a retry")
			return nil
		}
	}
}

// Open opens the watched path and positions the handle. A saved position is
// resumed only when one exists, the inode matches and the file is at least
// that long; otherwise reading starts at EOF. After a rotation the new file is read from
// the start when ReadRotatedFromStart is set.
func (t *Tailer) Open() error {
	t.closeHandle()

	f, err := t.fs.Open(t.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	id, err := f.Identity()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	savedPos, savedInode := t.store.FilePosition()
	var start int64
	var how string
	switch {
	case t.rotated && t.cfg.ReadRotatedFromStart:
		start, how = 0, "rotated"
	case t.store.HasFilePosition() && id.SameInode(savedInode) && savedPos <= uint64(id.Size):
		start, how = int64(savedPos), "resumed"
	default:
		start, how = id.Size, "end"
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	t.rotated = false
	t.h = newHandle(f, id, start)
	t.store.UpdateFilePosition(uint64(start), id.Inode)
	t.resetUnsaved()
	t.updatePosition()
	metrics.FileReopens.Inc()

	t.log.Info("Opened log file", "position", start, "mode", how, "inode", inodeAttr(id.Inode))
	return nil
}

// readLines yields complete lines until EOF.
func (t *Tailer) readLines(ctx context.Context, yield func(string, error) bool) error {
	h := t.h
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, n, err := h.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return t.readFailure(err)
		}

		// A readable line settles a pending half-open trial even if the
		// consumer stops on it.
		t.markHealthy()
		if !yield(line, nil) {
			return errStop
		}
		h.commit(n)
		t.delivered(n)
	}
}

// readFailure cleans up after a failed read. A stream error means the handle
// itself is broken, so it is dropped without touching it again. Anything else
// rewinds to the last confirmed offset when possible.
func (t *Tailer) readFailure(err error) error {
	err = fmt.Errorf("failed to read log file: %w", err)
	if recovery.Classify(err) == domain.ErrorKindStream {
		t.closeHandle()
		return err
	}
	if rerr := t.h.rewind(); rerr != nil {
		t.log.Debug("Rewind after read failure failed", "error", rerr)
	}
	return err
}

// DetectRotation reports whether the watched path no longer refers to the
// open file: it vanished, its inode changed, or it shrank below the read
// position by more than RotationSlack. A failed stat counts as rotation.
func (t *Tailer) DetectRotation() bool {
	id, err := t.fs.Stat(t.cfg.Path)
	if err != nil {
		t.log.Debug("Stat failed during rotation check", "error", err)
		return true
	}
	if t.h == nil {
		return false
	}

	if t.h.id.Inode != nil && id.Inode != nil && *t.h.id.Inode != *id.Inode {
		t.log.Info("Inode changed", "old", *t.h.id.Inode, "new", *id.Inode)
		return true
	}
	pos := t.h.position()
	if id.Size < pos-t.cfg.RotationSlack {
		t.log.Info("File shrank below read position", "position", pos, "size", id.Size)
		return true
	}
	// Without inodes a replaced file shows up as an older modification time.
	if t.h.id.Inode == nil && !t.h.id.ModTime.IsZero() && id.ModTime.Before(t.h.id.ModTime) {
		t.log.Info("Modification time went backwards", "opened", t.h.id.ModTime, "now", id.ModTime)
		return true
	}
	return false
}

func (t *Tailer) rotate() {
	if t.h != nil && len(t.h.pending) > 0 {
		metrics.DroppedPartialLines.Inc()
		t.log.Warn("Dropping unterminated line from rotated file",
			"bytes", len(t.h.pending), "offset", t.h.offset)
	}
	t.log.Info("Log rotation detected, reopening file")
	metrics.Rotations.Inc()
	t.mu.Lock()
	t.status.Rotations++
	t.mu.Unlock()

	t.closeHandle()
	t.rotated = true
}

// Close persists the last confirmed offset and releases the handle. It is
// safe to call more than once.
func (t *Tailer) Close() {
	t.closeHandle()
	t.setState(StateStopped)
}

func (t *Tailer) closeHandle() {
	h := t.h
	if h == nil {
		return
	}
	t.h = nil

	t.store.UpdateFilePosition(uint64(h.offset), h.id.Inode)
	t.store.Save()
	t.resetUnsaved()
	if err := h.f.Close(); err != nil {
		t.log.Debug("Error closing log file", "error", err)
	}
}

// Status returns a snapshot of the loop state.
func (t *Tailer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	if s.Inode != nil {
		v := *s.Inode
		s.Inode = &v
	}
	return s
}

// markHealthy reports the first successful read of a handle as progress.
func (t *Tailer) markHealthy() {
	if t.h == nil || t.h.healthy {
		return
	}
	t.h.healthy = true
	t.engine.RecordSuccess(t.cfg.Component)
}

func (t *Tailer) delivered(n int64) {
	metrics.LinesRead.Inc()
	metrics.BytesRead.Add(float64(n))

	t.unsavedLines++
	t.unsavedBytes += n
	t.store.UpdateFilePosition(uint64(t.h.offset), t.h.id.Inode)
	t.updatePosition()

	t.mu.Lock()
	t.status.LinesRead++
	t.status.LastLineAt = t.now()
	t.mu.Unlock()

	if t.unsavedLines >= t.cfg.CheckpointLines || t.unsavedBytes >= t.cfg.CheckpointBytes {
		t.checkpoint()
	}
}

func (t *Tailer) idleCheckpoint() {
	if t.unsavedLines > 0 {
		t.checkpoint()
	}
}

func (t *Tailer) checkpoint() {
	t.store.UpdateFilePosition(uint64(t.h.offset), t.h.id.Inode)
	t.store.Save()
	t.resetUnsaved()
}

func (t *Tailer) resetUnsaved() {
	t.unsavedLines = 0
	t.unsavedBytes = 0
}

func (t *Tailer) updatePosition() {
	metrics.FilePosition.Set(float64(t.h.offset))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Offset = uint64(t.h.offset)
	if t.h.id.Inode != nil {
		v := *t.h.id.Inode
		t.status.Inode = &v
	} else {
		t.status.Inode = nil
	}
}

// setState records the loop state and reports whether it changed.
func (t *Tailer) setState(s State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.State == s {
		return false
	}
	t.status.State = s
	return true
}

func (t *Tailer) recordFailure(err error, d recovery.Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastError = err.Error()
	t.status.LastAction = d.Action.String()
}

func inodeAttr(inode *uint64) any {
	if inode == nil {
		return nil
	}
	return *inode
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
