package rabbitmq

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed publish is attempted again
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (zero based) may be followed by
	// another one, and after which delay
	ShouldRetry(attempt int, err error) (bool, time.Duration)
}

// Backoff is an exponential RetryPolicy
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
	Jitter      bool
}

// NewBackoff creates a jittered exponential backoff allowing maxRetries
// additional attempts
func NewBackoff(initial, max time.Duration, maxRetries int) *Backoff {
	return &Backoff{
		Initial:     initial,
		Max:         max,
		Multiplier:  2.0,
		MaxAttempts: maxRetries,
		Jitter:      true,
	}
}

// ShouldRetry implements RetryPolicy
func (b *Backoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= b.MaxAttempts || !retryable(err) {
		return false, 0
	}
	return true, b.Delay(attempt)
}

// Delay returns the wait before the attempt following attempt
func (b *Backoff) Delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter {
		// ±15%
		delay += rand.Float64()*0.3*delay - 0.15*delay
	}
	return time.Duration(delay)
}

// retry runs fn until it succeeds, the policy gives up or ctx ends. A nil
// policy means a single attempt.
func retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if policy == nil {
			return err
		}
		again, delay := policy.ShouldRetry(attempt, err)
		if !again {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
