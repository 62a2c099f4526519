// Package retry provides the reconnect backoff policy injected into
// connection managers.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned once a bounded policy runs out of
// attempts.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Policy describes how long to wait between connection attempts.
// MaxAttempts of zero retries forever; callers needing a bound impose
// one here or cancel the context.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	Jitter      time.Duration
	Multiplier  float64 // <=1 keeps the interval fixed
	MaxAttempts int
}

// Fixed waits the same interval between every attempt, forever.
func Fixed(d time.Duration) Policy {
	return Policy{Initial: d, Max: d, Multiplier: 1}
}

// Exponential doubles the interval per attempt up to max, forever.
func Exponential(initial, max time.Duration) Policy {
	return Policy{Initial: initial, Max: max, Multiplier: 2}
}

// Backoff returns the wait before attempt n (counted from zero).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Initial
	if d <= 0 {
		d = time.Second
	}
	mult := p.Multiplier
	if mult > 1 {
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * mult)
			if p.Max > 0 && d >= p.Max {
				d = p.Max
				break
			}
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// Exhausted reports whether attempt n exceeds the policy bound.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Wait sleeps the backoff for attempt n or returns early when ctx is
// canceled or the policy is exhausted.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	if p.Exhausted(attempt) {
		return ErrAttemptsExhausted
	}
	t := time.NewTimer(p.Backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
