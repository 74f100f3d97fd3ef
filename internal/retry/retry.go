// Package retry provides a bounded retry policy with exponential backoff and
// jitter for calls to fallible upstreams.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 100 * time.Millisecond
	DefaultMaxDelay     = 2 * time.Second
	DefaultJitterFactor = 0.5
)

// Policy errors.
var (
	ErrInvalidAttempts = errors.New("max attempts must be at least 1")
	ErrInvalidDelay    = errors.New("base delay must be positive")
	ErrInvalidMaxDelay = errors.New("max delay must be >= base delay")
	ErrInvalidJitter   = errors.New("jitter factor must be between 0 and 1")
)

// Policy describes how a call is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// JitterFactor is the fraction of the delay to randomize (0.0 to 1.0).
	// 0.5 spreads a delay d over [0.75d, 1.25d].
	JitterFactor float64
	// Retryable decides whether err is worth another attempt. nil retries
	// everything except context.Canceled.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for enrichment calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if p.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if p.MaxDelay < p.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	return nil
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Backoff returns the delay before attempt n+1, where n counts completed
// attempts starting at 1.
func (p Policy) Backoff(n int) time.Duration {
	shift := uint(n - 1)
	if n < 1 {
		shift = 0
	}
	// Cap the shift to keep the multiplication in range.
	if shift > 30 {
		shift = 30
	}
	delay := float64(p.BaseDelay) * float64(uint64(1)<<shift)
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := (randFloat() - 0.5) * p.JitterFactor
		delay = delay * (1 + jitter)
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. It returns the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(lastErr, err)
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, errors.Join(lastErr, ctxErr)
		}
		if attempt == p.MaxAttempts || !p.retryable(err) {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}
