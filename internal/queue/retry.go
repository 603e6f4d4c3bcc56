package queue

import (
	"math/rand/v2"
	"time"
)

// Default retry schedule for tasks that return an error. Mail servers that
// greylist usually accept a second attempt within a few minutes.
var retrySchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
}

// RetryStrategy implements scheduled backoff with jitter for task retries.
type RetryStrategy struct {
	MaxRetries int
	Schedule   []time.Duration
}

// NewRetryStrategy creates a RetryStrategy with the default schedule and the
// given maximum retry count.
func NewRetryStrategy(maxRetries int) *RetryStrategy {
	return &RetryStrategy{
		MaxRetries: maxRetries,
		Schedule:   retrySchedule,
	}
}

// ShouldRetry reports whether a task that has already been retried
// retryCount times may be retried again.
func (r *RetryStrategy) ShouldRetry(retryCount int) bool {
	return retryCount <= r.MaxRetries
}

// NextBackoff returns the delay before retry number retryCount (zero based),
// jittered to base * (0.5 + rand * 0.5).
func (r *RetryStrategy) NextBackoff(retryCount int) time.Duration {
	if len(r.Schedule) == 0 {
		return 0
	}
	idx := min(max(retryCount, 0), len(r.Schedule)-1)

	base := r.Schedule[idx]
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}
