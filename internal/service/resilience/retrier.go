package resilience

import (
	"context"
	"log/slog"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// Retrier runs operations against named external services with exponential
// backoff and the service's circuit breaker.
type Retrier struct {
	cfg domain.RetryConfig
	reg *Registry
}

// NewRetrier wires a retry policy onto a breaker registry.
func NewRetrier(cfg domain.RetryConfig, reg *Registry) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg = domain.DefaultRetryConfig()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Retrier{cfg: cfg, reg: reg}
}

// Registry exposes the breaker registry for state inspection at run end.
func (r *Retrier) Registry() *Registry { return r.reg }

func (r *Retrier) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.cfg.InitialDelay
	expo.MaxInterval = r.cfg.MaxDelay
	expo.Multiplier = r.cfg.Multiplier
	expo.MaxElapsedTime = 0
	if r.cfg.Jitter {
		expo.RandomizationFactor = 0.5
	} else {
		expo.RandomizationFactor = 0
	}
	var bo backoff.BackOff = backoff.WithContext(expo, ctx)
	return backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1))
}

// Do executes op against the named service. Retryable failures are retried
// up to the attempt budget; validation, auth and invalid-grant failures
// surface after their first attempt untouched. When the service's circuit is
// open no call is made and the result carries attempts=0. Exhaustion returns
// a RetryExhausted wrapping the last failure.
func (r *Retrier) Do(ctx context.Context, service string, op func(context.Context) error) error {
	br := r.reg.Get(service)
	if !br.Allow() {
		slog.Warn("circuit open; skipping call", slog.String("service", service))
		return &domain.RetryExhausted{
			Service:  service,
			Attempts: 0,
			Last:     domain.Failf(domain.KindCircuitOpen, service, "circuit breaker open"),
		}
	}

	attempts := 0
	var lastErr error

	wrapped := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			br.RecordSuccess()
			return nil
		}
		lastErr = err

		if !domain.KindOf(err).Retryable() {
			// not counted against the breaker: the service answered,
			// the request itself was unacceptable
			return backoff.Permanent(err)
		}

		br.RecordFailure()
		if br.State() == StateOpen {
			slog.Error("circuit breaker tripped during retries",
				slog.String("service", service),
				slog.Int("attempt", attempts),
				slog.Any("error", err))
			return backoff.Permanent(err)
		}
		slog.Warn("retrying external call",
			slog.String("service", service),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", r.cfg.MaxAttempts),
			slog.Any("error", err))
		return err
	}

	err := backoff.Retry(wrapped, r.newBackOff(ctx))
	if err == nil {
		return nil
	}
	if lastErr == nil {
		// context cancelled before the first attempt ran
		return err
	}
	if !domain.KindOf(lastErr).Retryable() {
		return lastErr
	}
	slog.Error("retries exhausted",
		slog.String("service", service),
		slog.Int("attempts", attempts),
		slog.Any("last_error", lastErr))
	return &domain.RetryExhausted{Service: service, Attempts: attempts, Last: lastErr}
}
