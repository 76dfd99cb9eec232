package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesRead tracks complete lines delivered to the consumer
	LinesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_lines_read_total",
			Help: "Total number of lines read from the watched file",
		},
	)

	// BytesRead tracks bytes consumed, including line terminators
	BytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_bytes_read_total",
			Help: "Total number of bytes consumed from the watched file",
		},
	)

	// Rotations tracks detected log rotations
	Rotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_rotations_total",
			Help: "Total number of detected log rotations",
		},
	)

	// DroppedPartialLines tracks unterminated lines lost when a file rotated
	DroppedPartialLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_dropped_partial_lines_total",
			Help: "Total number of unterminated trailing lines dropped at rotation",
		},
	)

	// FileReopens tracks successful opens of the watched file
	FileReopens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_file_reopens_total",
			Help: "Total number of times the watched file was opened",
		},
	)

	// FilePosition tracks the current confirmed read offset
	FilePosition = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tailwatch_file_position_bytes",
			Help: "Current confirmed read offset in the watched file",
		},
	)

	// RecoveryActions tracks decisions taken by the recovery engine
	RecoveryActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailwatch_recovery_actions_total",
			Help: "Total number of recovery decisions",
		},
		[]string{"component", "kind", "action"},
	)

	// CircuitBreakerOpen is 1 while a component's breaker is open
	CircuitBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tailwatch_circuit_breaker_open",
			Help: "Whether the circuit breaker of a component is open (1) or not (0)",
		},
		[]string{"component"},
	)

	// StateSaves tracks state file writes
	StateSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailwatch_state_saves_total",
			Help: "Total number of state file saves",
		},
		[]string{"result"},
	)

	// MirrorPublishes tracks checkpoint mirror writes
	MirrorPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailwatch_mirror_publishes_total",
			Help: "Total number of state snapshots published to the mirror",
		},
		[]string{"result"},
	)
)
