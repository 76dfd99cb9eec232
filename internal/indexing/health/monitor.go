package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/indexing/tailer"
)

// TailerSource reports the live tail loop status.
type TailerSource interface {
	Status() tailer.Status
}

// StateSource exposes a copy of the persisted watcher state.
type StateSource interface {
	Snapshot() *domain.WatcherState
}

// Monitor aggregates health status from the tail loop and the state store.
type Monitor struct {
	runID     string
	startedAt time.Time
	tailer    TailerSource
	state     StateSource
	// staleAfter marks a tailing loop degraded when no line arrived for that long.
	// Zero disables the check.
	staleAfter time.Duration
	now        func() time.Time

	mu         sync.RWMutex
	lastReport HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(runID string, tl TailerSource, st StateSource, staleAfter time.Duration) *Monitor {
	return &Monitor{
		runID:      runID,
		startedAt:  time.Now(),
		tailer:     tl,
		state:      st,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// CheckHealth evaluates the current status of the watcher.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.state.Snapshot()
	loop := m.tailer.Status()

	report := HealthReport{
		RunID:        m.runID,
		StartedAt:    m.startedAt,
		FilePosition: snap.FilePosition,
		Tailer:       TailerHealth{Status: m.loopStatus(loop), Loop: loop},
		Breakers:     make(map[string]BreakerHealth, len(snap.CircuitBreakerStates)),
	}
	report.SystemStatus = report.Tailer.Status

	for component, cb := range snap.CircuitBreakerStates {
		bh := BreakerHealth{
			Phase:           cb.Phase(),
			FailureCount:    cb.FailureCount,
			LastFailureTime: cb.LastFailureTime.Time(),
			NextAttemptTime: cb.NextAttemptTime.Time(),
		}
		switch bh.Phase {
		case domain.BreakerOpen:
			bh.Status = StatusCritical
		case domain.BreakerHalfOpen:
			bh.Status = StatusDegraded
		default:
			bh.Status = StatusHealthy
		}
		report.Breakers[component] = bh
		report.SystemStatus = worse(report.SystemStatus, bh.Status)
	}

	m.lastReport = report
	return report
}

// LastReport returns the most recent report without re-evaluating.
func (m *Monitor) LastReport() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReport
}

func (m *Monitor) loopStatus(s tailer.Status) SystemStatus {
	switch s.State {
	case tailer.StateStopped, tailer.StateCooldown:
		return StatusCritical
	case tailer.StateWaiting, tailer.StateBackoff:
		return StatusDegraded
	}

	if m.staleAfter > 0 && !s.LastLineAt.IsZero() && m.now().Sub(s.LastLineAt) > m.staleAfter {
		return StatusDegraded
	}
	return StatusHealthy
}
