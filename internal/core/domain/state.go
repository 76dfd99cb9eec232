package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"
)

// ErrStateNotObject is returned when a state document is valid JSON but not an object.
var ErrStateNotObject = errors.New("state document is not a JSON object")

// Keys owned by the core. Everything else in the document is carried in Extra.
const (
	keyFilePosition = "file_position"
	keyFileInode    = "file_inode"
	keyBreakers     = "circuit_breaker_states"
)

// Timestamp is a wall-clock instant stored as fractional Unix seconds,
// so state files stay compatible with the float timestamps already on disk.
type Timestamp float64

// Stamp converts t to a Timestamp. The zero time maps to 0.
func Stamp(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(float64(t.UnixNano()) / 1e9)
}

// Time converts the timestamp back to a time.Time. 0 maps to the zero time.
func (ts Timestamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(float64(ts))
	return time.Unix(int64(sec), int64(frac*1e9))
}

// IsZero reports whether the timestamp was never set.
func (ts Timestamp) IsZero() bool { return ts == 0 }

// BreakerPhase is the effective state of a circuit breaker.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// CircuitBreakerState is the persisted state of one component's breaker.
//
// Half-open is not stored as a flag: a breaker that is not open but still
// carries a failure count has had its cooldown expire without a success yet.
type CircuitBreakerState struct {
	IsOpen          bool      `json:"is_open"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime Timestamp `json:"last_failure_time"`
	LastSuccessTime Timestamp `json:"last_success_time"`
	NextAttemptTime Timestamp `json:"next_attempt_time"`
}

// Phase derives the effective breaker state.
func (c CircuitBreakerState) Phase() BreakerPhase {
	switch {
	case c.IsOpen:
		return BreakerOpen
	case c.FailureCount > 0:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// WatcherState is the document persisted by the state store.
type WatcherState struct {
	FilePosition         uint64
	FileInode            *uint64
	CircuitBreakerStates map[string]CircuitBreakerState

	// Extra holds every top-level key the core does not own (alert cooldowns,
	// error window, pool tracking...). Values are kept as compacted raw JSON
	// and written back unchanged.
	Extra map[string]json.RawMessage
}

// NewWatcherState returns the default state used when nothing could be loaded.
func NewWatcherState() *WatcherState {
	return &WatcherState{
		CircuitBreakerStates: make(map[string]CircuitBreakerState),
		Extra:                make(map[string]json.RawMessage),
	}
}

// Clone returns a deep copy.
func (s *WatcherState) Clone() *WatcherState {
	out := &WatcherState{
		FilePosition:         s.FilePosition,
		CircuitBreakerStates: maps.Clone(s.CircuitBreakerStates),
		Extra:                make(map[string]json.RawMessage, len(s.Extra)),
	}
	if out.CircuitBreakerStates == nil {
		out.CircuitBreakerStates = make(map[string]CircuitBreakerState)
	}
	if s.FileInode != nil {
		inode := *s.FileInode
		out.FileInode = &inode
	}
	for k, v := range s.Extra {
		out.Extra[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// MarshalJSON writes the core fields alongside the pass-through ones.
func (s WatcherState) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		doc[k] = v
	}
	breakers := s.CircuitBreakerStates
	if breakers == nil {
		breakers = map[string]CircuitBreakerState{}
	}
	doc[keyFilePosition] = s.FilePosition
	doc[keyFileInode] = s.FileInode
	doc[keyBreakers] = breakers
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a state document. Any structural problem in a core
// field fails the whole document so the caller can fall back to a backup.
func (s *WatcherState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return ErrStateNotObject
	}

	next := NewWatcherState()
	if v, ok := raw[keyFilePosition]; ok {
		if err := json.Unmarshal(v, &next.FilePosition); err != nil {
			return fmt.Errorf("invalid %s: %w", keyFilePosition, err)
		}
		delete(raw, keyFilePosition)
	}
	if v, ok := raw[keyFileInode]; ok {
		if err := json.Unmarshal(v, &next.FileInode); err != nil {
			return fmt.Errorf("invalid %s: %w", keyFileInode, err)
		}
		delete(raw, keyFileInode)
	}
	if v, ok := raw[keyBreakers]; ok {
		var breakers map[string]CircuitBreakerState
		if err := json.Unmarshal(v, &breakers); err != nil {
			return fmt.Errorf("invalid %s: %w", keyBreakers, err)
		}
		if breakers != nil {
			next.CircuitBreakerStates = breakers
		}
		delete(raw, keyBreakers)
	}
	for k, v := range raw {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return fmt.Errorf("invalid %s: %w", k, err)
		}
		next.Extra[k] = buf.Bytes()
	}

	*s = *next
	return nil
}
