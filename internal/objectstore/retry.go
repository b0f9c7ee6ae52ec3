package objectstore

import (
	"context"
	"math"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to transient S3 errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// backoff returns the wait duration before the given attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	d := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// do runs fn through the circuit breaker, retrying transient failures with
// exponential backoff. Not-found and precondition failures surface
// immediately.
func (s *Store) do(ctx context.Context, fn func() error) error {
	attempts := s.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err = s.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if err == nil || isTerminal(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.backoff(attempt)):
		}
	}
	return err
}
