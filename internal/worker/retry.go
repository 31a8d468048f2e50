package worker

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// RetryPolicy bounds the retries of the terminal job write.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when Config leaves it empty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// ShouldRetry reports whether a failed write deserves another attempt.
// attempt counts the writes made so far.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	// Both are answers from the store, not transient failures.
	return !errors.Is(err, audit.ErrJobTerminal) && !errors.Is(err, audit.ErrNotFound)
}

// Backoff returns the wait before the next attempt, with jitter in the upper
// half of the exponential delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay << attempt
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half)
}
