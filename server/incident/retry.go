package incident

import (
	"time"
)

// RetryPolicy controls what happens when the Dispatcher fails.
// The default is a single attempt, with no retry.
type RetryPolicy struct {
	MaxAttempts    int           // Total number of attempts, including the first. Values below 1 mean 1.
	InitialBackoff time.Duration // Pause after the first failure
	MaxBackoff     time.Duration // The pause doubles after every failure, up to this limit
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (p RetryPolicy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// Backoff returns the pause before attempt number 'attempt' (attempt 1 is the first retry)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	pause := max(p.InitialBackoff, 0)
	for i := 1; i < attempt; i++ {
		pause *= 2
		if p.MaxBackoff > 0 && pause >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 {
		pause = min(pause, p.MaxBackoff)
	}
	return pause
}
