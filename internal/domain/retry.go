// Retry policy shared by every wrapped external call.
package domain

import (
	"time"
)

// RetryConfig defines the attempt budget and backoff curve for calls to one
// external service.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// Jitter adds randomness to prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns the standard policy: three total attempts and
// an exponential wait capped at thirty seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryExhausted is the terminal failure after all attempts: it carries the
// last underlying error and how many attempts were made. Attempts is 0 when
// the circuit was open and no call was issued.
type RetryExhausted struct {
	Service  string
	Attempts int
	Last     error
}

func (r *RetryExhausted) Error() string {
	if r.Last == nil {
		return "retry exhausted for " + r.Service
	}
	return "retry exhausted for " + r.Service + ": " + r.Last.Error()
}

func (r *RetryExhausted) Unwrap() error { return r.Last }
