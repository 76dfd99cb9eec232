package recovery

import (
	"math"
	"time"
)

// ExponentialBackoff computes retry delays.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay calculates InitialDelay * 2^(attempt-1), capped at MaxDelay.
// Attempts are 1-indexed; anything below 1 is treated as the first attempt.
func (s *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}
