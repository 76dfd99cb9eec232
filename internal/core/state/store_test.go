package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vietddude/tailwatch/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "watcher_state.json"), nil)
}

func ptr(v uint64) *uint64 { return &v }

// =============================================================================
// Load / Save
// =============================================================================

func TestStore_LoadDefaultWhenMissing(t *testing.T) {
	s := newTestStore(t)

	if src := s.Load(); src != SourceDefault {
		t.Fatalf("expected default source, got %s", src)
	}

	pos, inode := s.FilePosition()
	if pos != 0 || inode != nil {
		t.Errorf("expected empty position, got %d %v", pos, inode)
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	s.UpdateFilePosition(4096, ptr(1234))
	s.UpdateCircuitBreaker("tailer", domain.CircuitBreakerState{
		IsOpen:          true,
		FailureCount:    5,
		LastFailureTime: 1700000000.25,
		LastSuccessTime: 1699999000.5,
		NextAttemptTime: 1700000060.25,
	})
	if err := s.SetExtra("current_pool", "blue"); err != nil {
		t.Fatalf("SetExtra failed: %v", err)
	}
	if !s.Save() {
		t.Fatal("Save failed")
	}
	want := s.Snapshot()

	reloaded := NewStore(s.Path(), nil)
	if src := reloaded.Load(); src != SourcePrimary {
		t.Fatalf("expected primary source, got %s", src)
	}

	got := reloaded.Snapshot()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestStore_BackupIsCopyOfPreviousPrimary(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	s.UpdateFilePosition(10, ptr(1))
	s.Save()
	first, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}

	s.UpdateFilePosition(20, ptr(1))
	s.Save()

	backup, err := os.ReadFile(s.BackupPath())
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != string(first) {
		t.Errorf("backup differs from previous primary:\n%s\nvs\n%s", backup, first)
	}
}

func TestStore_LoadFallsBackToBackup(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	s.UpdateFilePosition(100, ptr(7))
	s.UpdateCircuitBreaker("tailer", domain.CircuitBreakerState{FailureCount: 2})
	want := s.Snapshot()

	s.UpdateFilePosition(200, ptr(7))
	s.Save()

	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	reloaded := NewStore(s.Path(), nil)
	if src := reloaded.Load(); src != SourceBackup {
		t.Fatalf("expected backup source, got %s", src)
	}
	if got := reloaded.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("backup content mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestStore_LoadFallsBackToBackupWhenPrimaryMissing(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	s.UpdateFilePosition(100, ptr(7))
	s.Save()
	s.Save()

	if err := os.Remove(s.Path()); err != nil {
		t.Fatalf("remove primary: %v", err)
	}

	reloaded := NewStore(s.Path(), nil)
	if src := reloaded.Load(); src != SourceBackup {
		t.Fatalf("expected backup source, got %s", src)
	}
	if pos, _ := reloaded.FilePosition(); pos != 100 {
		t.Errorf("expected position 100, got %d", pos)
	}
}

func TestStore_LoadDefaultWhenBothCorrupt(t *testing.T) {
	s := newTestStore(t)
	_ = os.WriteFile(s.Path(), []byte("[]"), 0o644)
	_ = os.WriteFile(s.BackupPath(), []byte(""), 0o644)

	if src := s.Load(); src != SourceDefault {
		t.Fatalf("expected default source, got %s", src)
	}
}

func TestStore_LoadRejectsNullDocument(t *testing.T) {
	s := newTestStore(t)
	_ = os.WriteFile(s.Path(), []byte("null"), 0o644)

	if src := s.Load(); src != SourceDefault {
		t.Fatalf("expected default source, got %s", src)
	}
}

func TestStore_SaveDoesNotClobberGoodBackup(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	s.UpdateFilePosition(50, ptr(3))
	s.Save()
	s.Save()
	good, _ := os.ReadFile(s.BackupPath())

	_ = os.WriteFile(s.Path(), []byte("garbage"), 0o644)

	reloaded := NewStore(s.Path(), nil)
	reloaded.Load()
	reloaded.UpdateFilePosition(60, ptr(3))
	if !reloaded.Save() {
		t.Fatal("Save failed")
	}

	backup, _ := os.ReadFile(s.BackupPath())
	if string(backup) != string(good) {
		t.Error("unreadable primary was copied over the good backup")
	}
}

func TestStore_SaveFailureIsNotPropagated(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing", "dir", "state.json"), nil)
	s.Load()
	s.UpdateFilePosition(1, nil)

	if s.Save() {
		t.Error("expected Save to report failure")
	}
	if pos, _ := s.FilePosition(); pos != 1 {
		t.Errorf("in-memory state lost after failed save, got %d", pos)
	}
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	s.Save()

	if _, err := os.Stat(s.Path() + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind: %v", err)
	}
}

// =============================================================================
// Pass-through fields
// =============================================================================

func TestStore_PreservesCollaboratorFields(t *testing.T) {
	s := newTestStore(t)
	doc := `{
  "current_pool": "green",
  "last_alert_times": {"failover": 1700000000.5},
  "error_rate_window": [{"is_error": true, "pool": "green"}],
  "last_health_check": 0,
  "startup_time": 1699990000.125,
  "file_position": 12,
  "file_inode": null,
  "circuit_breaker_states": {}
}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s.Load()
	s.UpdateFilePosition(99, ptr(5))
	s.Save()

	data, _ := os.ReadFile(s.Path())
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("saved file is not JSON: %v", err)
	}

	wantRaw := map[string]string{
		"current_pool":      `"green"`,
		"last_alert_times":  `{"failover":1700000000.5}`,
		"error_rate_window": `[{"is_error":true,"pool":"green"}]`,
		"last_health_check": `0`,
		"startup_time":      `1699990000.125`,
	}
	for k, want := range wantRaw {
		got, ok := s.Extra(k)
		if !ok {
			t.Errorf("field %s dropped", k)
			continue
		}
		if string(got) != want {
			t.Errorf("field %s = %s, want %s", k, got, want)
		}
		if _, ok := out[k]; !ok {
			t.Errorf("field %s missing from saved file", k)
		}
	}
	if string(out["file_position"]) != "99" {
		t.Errorf("file_position = %s, want 99", out["file_position"])
	}
}

// =============================================================================
// Accessors
// =============================================================================

func TestStore_UpdateFilePositionKeepsInodeWhenNil(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	s.UpdateFilePosition(10, ptr(42))
	s.UpdateFilePosition(20, nil)

	pos, inode := s.FilePosition()
	if pos != 20 {
		t.Errorf("expected position 20, got %d", pos)
	}
	if inode == nil || *inode != 42 {
		t.Errorf("expected inode 42, got %v", inode)
	}
}

func TestStore_HasFilePosition(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	if s.HasFilePosition() {
		t.Error("default state reported a saved position")
	}

	s.UpdateFilePosition(0, nil)
	if !s.HasFilePosition() {
		t.Error("recorded offset not reported")
	}
	s.Save()

	reloaded := NewStore(s.Path(), nil)
	reloaded.Load()
	if !reloaded.HasFilePosition() {
		t.Error("loaded document not reported as a saved position")
	}

	reloaded.ResetFilePosition()
	if reloaded.HasFilePosition() {
		t.Error("position still reported after reset")
	}
}

func TestStore_CircuitBreakerCreatesDefault(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	cb := s.CircuitBreaker("tailer")
	if cb.IsOpen || cb.FailureCount != 0 {
		t.Errorf("expected closed default, got %+v", cb)
	}
	if _, ok := s.Snapshot().CircuitBreakerStates["tailer"]; !ok {
		t.Error("default breaker was not stored")
	}
}

func TestStore_SnapshotIsIndependent(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	s.UpdateFilePosition(1, ptr(1))

	snap := s.Snapshot()
	*snap.FileInode = 99
	snap.CircuitBreakerStates["x"] = domain.CircuitBreakerState{IsOpen: true}

	if _, inode := s.FilePosition(); *inode != 1 {
		t.Error("snapshot shares inode with store")
	}
	if _, ok := s.Snapshot().CircuitBreakerStates["x"]; ok {
		t.Error("snapshot shares breaker map with store")
	}
}

func TestStore_SaveHook(t *testing.T) {
	s := newTestStore(t)
	s.Load()

	var got []byte
	s.SetSaveHook(func(data []byte) { got = data })
	s.UpdateFilePosition(7, nil)
	s.Save()

	onDisk, _ := os.ReadFile(s.Path())
	if string(got) != string(onDisk) {
		t.Errorf("hook received %q, file has %q", got, onDisk)
	}
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	s.UpdateFilePosition(7, ptr(1))
	s.Save()
	s.Save()

	if err := s.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	for _, p := range []string{s.Path(), s.BackupPath()} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists", p)
		}
	}
	if pos, _ := s.FilePosition(); pos != 0 {
		t.Errorf("expected reset position, got %d", pos)
	}
}

// =============================================================================
// Lock
// =============================================================================

func TestStore_LockIsExclusive(t *testing.T) {
	s := newTestStore(t)
	if err := s.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer s.Unlock()

	other := NewStore(s.Path(), nil)
	if err := other.Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := s.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := other.Lock(); err != nil {
		t.Errorf("Lock after release failed: %v", err)
	}
	_ = other.Unlock()
}
