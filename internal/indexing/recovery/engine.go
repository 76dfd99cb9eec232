package recovery

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/indexing/metrics"
)

// BreakerStore persists circuit breaker state per component.
type BreakerStore interface {
	CircuitBreaker(component string) domain.CircuitBreakerState
	UpdateCircuitBreaker(component string, cb domain.CircuitBreakerState) bool
}

// ErrorContext tracks one (component, kind) failure streak.
type ErrorContext struct {
	Kind         domain.ErrorKind
	Component    string
	AttemptCount int
	LastAttempt  time.Time
	Message      string

	// failures holds failure times inside FailureWindow. It stays empty when
	// the window is off.
	failures []time.Time
}

type contextKey struct {
	component string
	kind      domain.ErrorKind
}

// Engine classifies failures, picks recovery actions and drives the
// per-component circuit breakers.
type Engine struct {
	cfg     Config
	backoff *ExponentialBackoff
	store   BreakerStore
	now     func() time.Time
	log     *slog.Logger

	mu       sync.Mutex
	contexts map[contextKey]*ErrorContext
	// trials records when IsOpen handed out the half-open trial of a
	// component in this process. A trial left unsettled for a full cooldown
	// is granted again.
	trials map[string]time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a recovery engine backed by store.
func NewEngine(cfg Config, store BreakerStore, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg: cfg,
		backoff: &ExponentialBackoff{
			InitialDelay: cfg.BaseBackoff,
			MaxDelay:     cfg.MaxBackoff,
		},
		store:    store,
		now:      time.Now,
		log:      log.With("component", "recovery"),
		contexts: make(map[contextKey]*ErrorContext),
		trials:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective policy after defaults.
func (e *Engine) Config() Config { return e.cfg }

// Handle records a failure of component and returns the action to take.
func (e *Engine) Handle(err error, component string) Decision {
	kind := Classify(err)
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	key := contextKey{component: component, kind: kind}
	ec, ok := e.contexts[key]
	if !ok {
		ec = &ErrorContext{Kind: kind, Component: component}
		e.contexts[key] = ec
	}
	ec.AttemptCount++
	ec.LastAttempt = now
	ec.Message = msg
	if e.cfg.FailureWindow > 0 {
		ec.failures = append(e.prune(ec.failures, now), now)
	}

	d := Decision{
		Kind:      kind,
		Component: component,
		Attempt:   ec.AttemptCount,
		Message:   msg,
	}

	if cb, open := e.checkBreaker(component, ec, now); open {
		d.Action = ActionCircuitBreaker
		d.Delay = max(cb.NextAttemptTime.Time().Sub(now), 0)
	} else {
		d.Action = e.action(kind, ec.AttemptCount)
		if d.Action == ActionRetryWithBackoff {
			d.Delay = e.backoff.Delay(ec.AttemptCount)
		}
	}

	metrics.RecoveryActions.WithLabelValues(component, string(kind), d.Action.String()).Inc()
	e.log.Warn("Handling failure",
		"target", component,
		"kind", kind,
		"attempt", d.Attempt,
		"action", d.Action,
		"delay", d.Delay,
		"error", msg,
	)
	return d
}

// checkBreaker applies the breaker transitions caused by a new failure and
// reports whether the breaker is open afterwards.
func (e *Engine) checkBreaker(component string, ec *ErrorContext, now time.Time) (domain.CircuitBreakerState, bool) {
	cb := e.advance(component, e.store.CircuitBreaker(component), now)

	switch cb.Phase() {
	case domain.BreakerOpen:
		return cb, true
	case domain.BreakerHalfOpen:
		e.log.Warn("Half-open trial failed, reopening circuit breaker", "target", component)
		return e.open(component, cb, now, cb.FailureCount+1), true
	default:
		recent := ec.AttemptCount
		if e.cfg.FailureWindow > 0 {
			recent = len(ec.failures)
		}
		if ec.AttemptCount >= e.cfg.FailureThreshold && recent >= e.cfg.FailureThreshold {
			e.log.Error("Circuit breaker opened",
				"target", component,
				"failures", recent,
				"cooldown", e.cfg.Cooldown,
			)
			return e.open(component, cb, now, recent), true
		}
		return cb, false
	}
}

func (e *Engine) action(kind domain.ErrorKind, attempt int) Action {
	if attempt > e.MaxAttempts(kind) {
		if kind.Recoverable() {
			return ActionRestartComponent
		}
		return ActionFatalExit
	}
	if kind == domain.ErrorKindStream && attempt == 1 {
		return ActionRetryImmediate
	}
	return ActionRetryWithBackoff
}

// MaxAttempts returns the attempt budget for kind.
func (e *Engine) MaxAttempts(kind domain.ErrorKind) int {
	if n, ok := e.cfg.MaxAttempts[kind]; ok && n > 0 {
		return n
	}
	return e.cfg.DefaultMaxAttempts
}

// ComputeBackoff returns the retry delay for a 1-indexed attempt.
func (e *Engine) ComputeBackoff(attempt int) time.Duration {
	return e.backoff.Delay(attempt)
}

// RecordSuccess closes the breaker of component and clears all its failure
// streaks. Call it when the component made real progress.
func (e *Engine) RecordSuccess(component string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb := e.store.CircuitBreaker(component)
	if cb.Phase() != domain.BreakerClosed {
		cb.IsOpen = false
		cb.FailureCount = 0
		cb.LastSuccessTime = domain.Stamp(e.now())
		e.store.UpdateCircuitBreaker(component, cb)
		metrics.CircuitBreakerOpen.WithLabelValues(component).Set(0)
		e.log.Info("Circuit breaker closed", "target", component)
	}
	delete(e.trials, component)
	e.dropContexts(component)
}

// IsOpen reports whether component must not be attempted right now.
//
// Once the cooldown has elapsed the first call moves the breaker to
// half-open and returns false, granting a single trial. Further calls keep
// returning true until RecordSuccess or another failure settles the trial,
// or until the granted trial is itself a cooldown old.
func (e *Engine) IsOpen(component string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	cb := e.advance(component, e.store.CircuitBreaker(component), now)
	switch cb.Phase() {
	case domain.BreakerOpen:
		return true
	case domain.BreakerHalfOpen:
		if granted, ok := e.trials[component]; ok && now.Sub(granted) < e.cfg.Cooldown {
			return true
		}
		e.trials[component] = now
		return false
	default:
		return false
	}
}

// Trip forces the breaker of component open for one cooldown.
func (e *Engine) Trip(component string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb := e.store.CircuitBreaker(component)
	e.open(component, cb, e.now(), max(cb.FailureCount, 1))
	e.log.Warn("Circuit breaker tripped manually", "target", component)
}

// Reset forces the breaker of component closed and forgets its failures.
func (e *Engine) Reset(component string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb := e.store.CircuitBreaker(component)
	cb.IsOpen = false
	cb.FailureCount = 0
	cb.NextAttemptTime = 0
	e.store.UpdateCircuitBreaker(component, cb)
	metrics.CircuitBreakerOpen.WithLabelValues(component).Set(0)
	delete(e.trials, component)
	e.dropContexts(component)
	e.log.Info("Circuit breaker reset", "target", component)
}

// Context returns a copy of the failure streak for (component, kind).
func (e *Engine) Context(component string, kind domain.ErrorKind) (ErrorContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ec, ok := e.contexts[contextKey{component: component, kind: kind}]
	if !ok {
		return ErrorContext{}, false
	}
	out := *ec
	out.failures = nil
	return out, true
}

// advance performs the lazy open → half-open transition.
func (e *Engine) advance(component string, cb domain.CircuitBreakerState, now time.Time) domain.CircuitBreakerState {
	if !cb.IsOpen || domain.Stamp(now) < cb.NextAttemptTime {
		return cb
	}
	cb.IsOpen = false
	if cb.FailureCount == 0 {
		cb.FailureCount = 1
	}
	e.store.UpdateCircuitBreaker(component, cb)
	delete(e.trials, component)
	metrics.CircuitBreakerOpen.WithLabelValues(component).Set(0)
	e.log.Info("Circuit breaker half-open", "target", component)
	return cb
}

func (e *Engine) open(component string, cb domain.CircuitBreakerState, now time.Time, failures int) domain.CircuitBreakerState {
	cb.IsOpen = true
	cb.FailureCount = failures
	cb.LastFailureTime = domain.Stamp(now)
	cb.NextAttemptTime = domain.Stamp(now.Add(e.cfg.Cooldown))
	e.store.UpdateCircuitBreaker(component, cb)
	delete(e.trials, component)
	metrics.CircuitBreakerOpen.WithLabelValues(component).Set(1)
	return cb
}

func (e *Engine) dropContexts(component string) {
	for key := range e.contexts {
		if key.component == component {
			delete(e.contexts, key)
		}
	}
}

// prune drops failures outside the window.
func (e *Engine) prune(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-e.cfg.FailureWindow)
	i := 0
	for i < len(failures) && failures[i].Before(cutoff) {
		i++
	}
	return failures[i:]
}
