package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/tailwatch/internal/core/config"
	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/core/state"
	"github.com/vietddude/tailwatch/internal/indexing/health"
	"github.com/vietddude/tailwatch/internal/indexing/recovery"
	"github.com/vietddude/tailwatch/internal/indexing/tailer"
	redisclient "github.com/vietddude/tailwatch/internal/infra/redis"
)

// startupTimeKey is the pass-through state field recording the first start.
const startupTimeKey = "startup_time"

// Watcher is the main application struct that manages the tail loop lifecycle.
type Watcher struct {
	cfg          *config.AppConfig
	runID        string
	store        *state.Store
	tailer       *tailer.Tailer
	consumer     tailer.LineHandler
	healthMon    *health.Monitor
	healthServer *health.Server
	redisClient  *redisclient.Client
	mirror       *redisclient.Mirror
	log          *slog.Logger

	cancelTail   context.CancelFunc
	cancelMirror context.CancelFunc
	mirrorDone   sync.WaitGroup
	done         chan struct{}
	err          error
}

// NewWatcher creates a new Watcher with all dependencies initialized. It
// takes the state file lock; a second watcher on the same state fails with
// state.ErrLocked.
func NewWatcher(cfg *config.AppConfig, consumer tailer.LineHandler) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runID := uuid.NewString()
	log := slog.Default().With("run_id", runID)

	// 1. State
	store := state.NewStore(cfg.State.Path, log)
	if err := store.Lock(); err != nil {
		return nil, err
	}
	source := store.Load()
	if _, ok := store.Extra(startupTimeKey); !ok {
		if err := store.SetExtra(startupTimeKey, domain.Stamp(time.Now())); err != nil {
			log.Warn("Failed to record startup time", "error", err)
		}
	}

	// 2. Recovery and tail loop
	engine := recovery.NewEngine(cfg.Recovery, store, log)
	tl := tailer.New(cfg.Watch, store, engine, log)

	if consumer == nil {
		consumer = NewLogConsumer(log).Consume
	}

	// 3. Health
	healthMon := health.NewMonitor(runID, tl, store, cfg.Server.StaleAfter)
	var healthServer *health.Server
	if cfg.Server.Enabled {
		healthServer = health.NewServer(healthMon, cfg.Server.Port)
	}

	w := &Watcher{
		cfg:          cfg,
		runID:        runID,
		store:        store,
		tailer:       tl,
		consumer:     consumer,
		healthMon:    healthMon,
		healthServer: healthServer,
		log:          log,
		done:         make(chan struct{}),
	}

	// 4. Checkpoint mirror
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, checkpoint mirror disabled", "error", err)
		} else {
			w.redisClient = client
			w.mirror = redisclient.NewMirror(client, log)
			store.SetSaveHook(w.mirror.Offer)
			log.Info("Checkpoint mirror enabled", "prefix", cfg.Redis.KeyPrefix)
		}
	}

	log.Info("Watcher initialized",
		"path", cfg.Watch.Path,
		"state", cfg.State.Path,
		"state_source", source,
	)
	return w, nil
}

// RunID returns the unique id of this run.
func (w *Watcher) RunID() string { return w.runID }

// Monitor returns the health monitor.
func (w *Watcher) Monitor() *health.Monitor { return w.healthMon }

// Start starts the watcher and all its components. It does not block; the
// tail loop result is available through Err once Done is closed.
func (w *Watcher) Start(ctx context.Context) error {
	// Start Health Server
	if w.healthServer != nil {
		go func() {
			if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.log.Error("Health server failed", "error", err)
			}
		}()
	}

	// Start Checkpoint Mirror
	if w.mirror != nil {
		mirrorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w.cancelMirror = cancel
		w.mirrorDone.Add(1)
		go func() {
			defer w.mirrorDone.Done()
			_ = w.mirror.Run(mirrorCtx)
		}()
	}

	// Start Tail Loop
	tailCtx, cancel := context.WithCancel(ctx)
	w.cancelTail = cancel
	go func() {
		defer close(w.done)
		w.err = w.tailer.Run(tailCtx, w.consumer)
		if w.err != nil {
			w.log.Error("Tail loop stopped", "error", w.err)
		}
	}()

	w.log.Info("Watcher started")
	return nil
}

// Done is closed when the tail loop ends.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err returns the tail loop result after Done is closed. Nil means the loop
// was stopped through its context.
func (w *Watcher) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Stop stops the watcher, persists the final state and releases the lock.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")
	var errs []error

	// Stop Tail Loop
	if w.cancelTail != nil {
		w.cancelTail()
		select {
		case <-w.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("tail loop did not stop: %w", ctx.Err()))
		}
	}
	w.store.Save()

	// Stop Checkpoint Mirror after the final save was offered
	if w.cancelMirror != nil {
		w.cancelMirror()
		w.mirrorDone.Wait()
	}
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}

	// Stop Health Server
	if w.healthServer != nil {
		if err := w.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
		}
	}

	if err := w.store.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
