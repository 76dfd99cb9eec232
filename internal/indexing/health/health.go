// Package health provides watcher health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/indexing/tailer"
)

// SystemStatus represents the overall health state of the watcher or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// TailerHealth contains the tail loop view.
type TailerHealth struct {
	Status SystemStatus  `json:"status"`
	Loop   tailer.Status `json:"loop"`
}

// BreakerHealth contains the persisted breaker state of one component.
type BreakerHealth struct {
	Status          SystemStatus        `json:"status"`
	Phase           domain.BreakerPhase `json:"phase"`
	FailureCount    int                 `json:"failure_count"`
	LastFailureTime time.Time           `json:"last_failure_time,omitzero"`
	NextAttemptTime time.Time           `json:"next_attempt_time,omitzero"`
}

// HealthReport contains the full watcher health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	RunID        string                   `json:"run_id"`
	StartedAt    time.Time                `json:"started_at"`
	FilePosition uint64                   `json:"file_position"`
	Tailer       TailerHealth             `json:"tailer"`
	Breakers     map[string]BreakerHealth `json:"breakers"`
}
