// Package state persists tailing progress and circuit breaker state.
//
// # Layout on disk
//
//	<path>         primary JSON document
//	<path>.backup  byte copy of the previous primary, taken right before each overwrite
//	<path>.tmp     scratch file, renamed over the primary
//	<path>.lock    advisory lock held by the single writer process
//
// # Guarantees
//
//   - Readers never observe a partially written primary: Save writes the temp file,
//     fsyncs it and renames it into place.
//   - Load never fails. It tries the primary, then the backup, then falls back
//     to a fresh default state.
//   - Save never propagates errors. Persistence is best effort; failures are
//     logged and counted so the tail loop keeps running.
//
// Position updates are memory-only; callers decide when to pay for a Save.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/indexing/metrics"
)

// Source identifies where Load found the active state.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceBackup  Source = "backup"
	SourceDefault Source = "default"
)

// Store owns the canonical persisted offset, inode and breaker map.
//
// It is safe for concurrent use so the health server can snapshot it while
// the tail loop mutates it. Writes from several processes must still go
// through Lock.
type Store struct {
	path       string
	backupPath string
	tmpPath    string

	mu    sync.RWMutex
	state *domain.WatcherState
	// primaryValid is false when the primary on disk is known to be unreadable;
	// copying it over a good backup would destroy the only usable generation.
	primaryValid bool
	// hasPosition is false until a saved document was loaded or an offset
	// was recorded.
	hasPosition bool
	onSave       func(data []byte)

	lock *flock.Flock
	log  *slog.Logger
}

// NewStore creates a store for the given primary path. Call Load before use.
func NewStore(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		path:       path,
		backupPath: path + ".backup",
		tmpPath:    path + ".tmp",
		state:      domain.NewWatcherState(),
		lock:       flock.New(path + ".lock"),
		log:        log.With("component", "state"),
	}
}

// Path returns the primary state file path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the backup state file path.
func (s *Store) BackupPath() string { return s.backupPath }

// SetSaveHook registers fn to receive the bytes of every successful save.
// fn runs on the saving goroutine and must not block.
func (s *Store) SetSaveHook(fn func(data []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSave = fn
}

// Load replaces the in-memory state with the first readable document.
func (s *Store) Load() Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := []struct {
		source Source
		path   string
	}{
		{SourcePrimary, s.path},
		{SourceBackup, s.backupPath},
	}

	for _, c := range candidates {
		st, err := readState(c.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.log.Warn("Failed to load state", "path", c.path, "error", err)
			continue
		}
		s.state = st
		s.primaryValid = c.source == SourcePrimary
		s.hasPosition = true
		s.log.Info("Loaded state", "path", c.path, "source", c.source,
			"position", st.FilePosition, "breakers", len(st.CircuitBreakerStates))
		return c.source
	}

	s.state = domain.NewWatcherState()
	s.primaryValid = false
	s.hasPosition = false
	s.log.Info("Using default state", "path", s.path)
	return SourceDefault
}

// Save persists the in-memory state. It reports whether the write succeeded.
func (s *Store) Save() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.save()
	if err != nil {
		metrics.StateSaves.WithLabelValues("error").Inc()
		s.log.Error("Failed to save state", "path", s.path, "error", err)
		return false
	}
	metrics.StateSaves.WithLabelValues("ok").Inc()
	if s.onSave != nil {
		s.onSave(data)
	}
	return true
}

func (s *Store) save() ([]byte, error) {
	if s.primaryValid {
		if err := copyFile(s.path, s.backupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to back up state: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	if err := writeFileSync(s.tmpPath, data); err != nil {
		return nil, err
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		_ = os.Remove(s.tmpPath)
		return nil, fmt.Errorf("failed to replace state file: %w", err)
	}
	syncDir(filepath.Dir(s.path))

	s.primaryValid = true
	return data, nil
}

// CircuitBreaker returns the breaker state for component, creating a closed
// one if none exists yet.
func (s *Store) CircuitBreaker(component string) domain.CircuitBreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.state.CircuitBreakerStates[component]
	if !ok {
		cb = domain.CircuitBreakerState{}
		s.state.CircuitBreakerStates[component] = cb
	}
	return cb
}

// UpdateCircuitBreaker stores cb for component and persists the state.
func (s *Store) UpdateCircuitBreaker(component string, cb domain.CircuitBreakerState) bool {
	s.mu.Lock()
	s.state.CircuitBreakerStates[component] = cb
	s.mu.Unlock()
	return s.Save()
}

// UpdateFilePosition records the read offset in memory. A nil inode keeps the
// previously stored identity.
func (s *Store) UpdateFilePosition(position uint64, inode *uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.FilePosition = position
	s.hasPosition = true
	if inode != nil {
		v := *inode
		s.state.FileInode = &v
	}
}

// FilePosition returns the stored offset and inode.
func (s *Store) FilePosition() (uint64, *uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var inode *uint64
	if s.state.FileInode != nil {
		v := *s.state.FileInode
		inode = &v
	}
	return s.state.FilePosition, inode
}

// ResetFilePosition forgets the stored offset and file identity.
func (s *Store) ResetFilePosition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FilePosition = 0
	s.state.FileInode = nil
	s.hasPosition = false
}

// HasFilePosition reports whether the offset came from a saved document or
// an update rather than from the default state.
func (s *Store) HasFilePosition() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPosition
}

// Extra returns a pass-through field owned by a collaborator.
func (s *Store) Extra(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.Extra[key]
	return append(json.RawMessage(nil), v...), ok
}

// SetExtra stores a pass-through field in memory.
func (s *Store) SetExtra(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Extra[key] = data
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *domain.WatcherState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Remove deletes the primary, backup and temp files and resets memory to
// the default state. This is the only way state is ever deleted.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, p := range []string{s.path, s.backupPath, s.tmpPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.state = domain.NewWatcherState()
	s.primaryValid = false
	s.hasPosition = false
	return errors.Join(errs...)
}

func readState(path string) (*domain.WatcherState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty state file")
	}
	st := domain.NewWatcherState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return st, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
