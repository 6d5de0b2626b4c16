package workflow

import "time"

// RetryPolicy governs per-step retries. MaxRetries counts retries, not
// attempts; a step runs at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy matches the pipeline defaults: two retries with
// 2s/4s backoff (8s would follow if more retries were configured).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 2 * time.Second}
}

// Delay returns the backoff before the given retry. failures counts
// the attempts that already failed, starting at 1.
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	return p.BaseDelay << (failures - 1)
}
