package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestWatcherState_UnmarshalKeepsUnknownFields(t *testing.T) {
	doc := `{
  "file_position": 512,
  "file_inode": 99,
  "circuit_breaker_states": {"tailer": {"is_open": true, "failure_count": 5, "last_failure_time": 10.5, "last_success_time": 0, "next_attempt_time": 70.5}},
  "current_pool": "blue",
  "last_alert_times": { "failover" : 1.25 }
}`
	var st WatcherState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if st.FilePosition != 512 {
		t.Errorf("file_position = %d", st.FilePosition)
	}
	if st.FileInode == nil || *st.FileInode != 99 {
		t.Errorf("file_inode = %v", st.FileInode)
	}
	cb := st.CircuitBreakerStates["tailer"]
	if !cb.IsOpen || cb.FailureCount != 5 || cb.NextAttemptTime != 70.5 {
		t.Errorf("breaker = %+v", cb)
	}
	if got := string(st.Extra["last_alert_times"]); got != `{"failover":1.25}` {
		t.Errorf("last_alert_times = %s", got)
	}
	if _, ok := st.Extra["file_position"]; ok {
		t.Error("core key leaked into Extra")
	}
}

func TestWatcherState_MarshalWritesAllKeys(t *testing.T) {
	st := NewWatcherState()
	st.FilePosition = 7
	st.Extra["startup_time"] = json.RawMessage(`1699990000.125`)

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"file_position":          `7`,
		"file_inode":             `null`,
		"circuit_breaker_states": `{}`,
		"startup_time":           `1699990000.125`,
	}
	for k, v := range want {
		if string(out[k]) != v {
			t.Errorf("%s = %s, want %s", k, out[k], v)
		}
	}
}

func TestWatcherState_UnmarshalRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"null", `null`},
		{"array", `[1, 2]`},
		{"negative position", `{"file_position": -1}`},
		{"string inode", `{"file_inode": "abc"}`},
		{"breakers not object", `{"circuit_breaker_states": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var st WatcherState
			if err := json.Unmarshal([]byte(tt.doc), &st); err == nil {
				t.Errorf("expected error for %s", tt.doc)
			}
		})
	}

	var st WatcherState
	if err := json.Unmarshal([]byte(`null`), &st); !errors.Is(err, ErrStateNotObject) {
		t.Errorf("expected ErrStateNotObject, got %v", err)
	}
}

func TestWatcherState_NullBreakersKeepsEmptyMap(t *testing.T) {
	var st WatcherState
	if err := json.Unmarshal([]byte(`{"circuit_breaker_states": null}`), &st); err != nil {
		t.Fatal(err)
	}
	if st.CircuitBreakerStates == nil {
		t.Error("expected empty breaker map")
	}
}

func TestCircuitBreakerState_Phase(t *testing.T) {
	tests := []struct {
		cb   CircuitBreakerState
		want BreakerPhase
	}{
		{CircuitBreakerState{}, BreakerClosed},
		{CircuitBreakerState{IsOpen: true, FailureCount: 5}, BreakerOpen},
		{CircuitBreakerState{FailureCount: 5}, BreakerHalfOpen},
	}
	for _, tt := range tests {
		if got := tt.cb.Phase(); got != tt.want {
			t.Errorf("Phase(%+v) = %s, want %s", tt.cb, got, tt.want)
		}
	}
}

func TestTimestamp(t *testing.T) {
	if Stamp(time.Time{}) != 0 {
		t.Error("zero time should stamp to 0")
	}
	if !Timestamp(0).Time().IsZero() {
		t.Error("0 should convert to zero time")
	}

	now := time.Unix(1_700_000_000, 500_000_000)
	ts := Stamp(now)
	if ts != 1700000000.5 {
		t.Errorf("Stamp = %v", ts)
	}
	if got := ts.Time(); !got.Equal(now) {
		t.Errorf("Time() = %v, want %v", got, now)
	}
}
