package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy controls the backoff schedule of Do.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// Reads suits fast RPC/HTTP reads: quick, few retries.
func Reads() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, Jitter: true}
}

// Submit suits transaction submission. The most conservative preset: retrying a
// submitted-but-unconfirmed transaction risks double submission.
func Submit() Policy {
	return Policy{MaxRetries: 2, BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second, Multiplier: 3, Jitter: true}
}

// Poll suits long status polling: many attempts, short delays.
func Poll() Policy {
	return Policy{MaxRetries: 20, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 1.5, Jitter: true}
}

// Delay returns the backoff before the given retry attempt (1-based), without
// jitter applied.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) sleep(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter && d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/10 + 1))
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the retry
// budget is exhausted. Fatal-class errors propagate immediately without
// consuming a retry. On exhaustion the last error is wrapped with the attempt
// count and accumulated delay.
func Do[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	var total time.Duration

	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		d := p.sleep(attempt)
		total += d
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(d):
		}
	}

	return zero, fmt.Errorf("%s: %d attempts over %s: %w", name, attempts, total.Round(time.Millisecond), lastErr)
}
