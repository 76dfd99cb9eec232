// Package recovery decides how the tail loop reacts to failures.
//
// # Purpose
//
// Every I/O failure is classified into an error kind, counted against a
// per-(component, kind) context and turned into a Decision:
//
//	RETRY_IMMEDIATE     first stream error: the handle is usually only momentarily invalid
//	RETRY_WITH_BACKOFF  any other failure still within its attempt budget
//	RESTART_COMPONENT   budget exhausted for stream_error / file_not_found
//	CIRCUIT_BREAKER     the component's breaker is (or just became) open
//	FATAL_EXIT          budget exhausted for everything else
//
// # Circuit breaker
//
// One breaker per component, persisted through the state store:
//
//	CLOSED --threshold failures in window--> OPEN
//	OPEN --queried after next_attempt_time--> HALF-OPEN (one trial)
//	HALF-OPEN --RecordSuccess--> CLOSED
//	HALF-OPEN --failure--> OPEN (cooldown restarts)
//
// The open → half-open step is lazy: it only happens when the breaker is
// queried, there is no background timer.
//
// # Package Structure
//
//   - recovery.go - Actions, decisions and configuration
//   - classify.go - Error classification
//   - strategy.go - Exponential backoff
//   - engine.go   - Error contexts and breaker transitions
package recovery

import (
	"fmt"
	"time"

	"github.com/vietddude/tailwatch/internal/core/domain"
)

// Action is the recovery outcome the tail loop must act on.
type Action int

const (
	ActionRetryImmediate Action = iota
	ActionRetryWithBackoff
	ActionRestartComponent
	ActionCircuitBreaker
	ActionFatalExit
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionRetryImmediate:
		return "retry_immediate"
	case ActionRetryWithBackoff:
		return "retry_with_backoff"
	case ActionRestartComponent:
		return "restart_component"
	case ActionCircuitBreaker:
		return "circuit_breaker"
	case ActionFatalExit:
		return "fatal_exit"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the result of handling one failure.
type Decision struct {
	Action    Action
	Kind      domain.ErrorKind
	Component string
	// Attempt is the attempt count of the (component, kind) streak after this failure.
	Attempt int
	// Delay is the backoff for RETRY_WITH_BACKOFF and the remaining cooldown
	// for CIRCUIT_BREAKER. Zero otherwise.
	Delay   time.Duration
	Message string
}

// Config holds retry and breaker policy.
type Config struct {
	MaxAttempts        map[domain.ErrorKind]int `yaml:"max_attempts"`
	DefaultMaxAttempts int                      `yaml:"default_max_attempts"`
	BaseBackoff        time.Duration            `yaml:"base_backoff"`
	MaxBackoff         time.Duration            `yaml:"max_backoff"`
	FailureThreshold   int                      `yaml:"failure_threshold"`
	Cooldown           time.Duration            `yaml:"cooldown"`
	// FailureWindow bounds which failures count toward the threshold.
	// 0 counts every failure of the current streak.
	FailureWindow time.Duration `yaml:"failure_window"`
}

// DefaultConfig returns the stock policy.
// Backoff: 1s, 2s, 4s, 8s, 16s, 30s...
func DefaultConfig() Config {
	return Config{
		MaxAttempts: map[domain.ErrorKind]int{
			domain.ErrorKindStream:     3,
			domain.ErrorKindPermission: 10,
			domain.ErrorKindNetwork:    3,
			domain.ErrorKindNotFound:   5,
		},
		DefaultMaxAttempts: 3,
		BaseBackoff:        1 * time.Second,
		MaxBackoff:         30 * time.Second,
		FailureThreshold:   5,
		Cooldown:           60 * time.Second,
		FailureWindow:      5 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts == nil {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.FailureWindow < 0 {
		c.FailureWindow = 0
	}
	return c
}
