package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config parameterizes Do. Every I/O call site in the engine goes through the
// same combinator instead of carrying its own ad hoc loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable reports whether the error is worth another attempt. Nil means
	// every non-nil error is retryable.
	Retryable func(error) bool
}

var ErrExhausted = errors.New("retry: attempts exhausted")

// Do runs op up to cfg.MaxAttempts times, sleeping a capped jittered
// exponential backoff between attempts. It returns nil on the first success,
// the op error immediately when Retryable rejects it, and the last error
// joined with ErrExhausted when the budget runs out. Context cancellation
// aborts the wait and returns ctx.Err().
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}

	var lastErr error
	delay := time.Duration(0)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay = nextDelay(delay, base, cfg.MaxDelay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}

// nextDelay doubles the previous delay and adds jitter in [0, base), capped at
// maxDelay when set.
func nextDelay(prev, base, maxDelay time.Duration) time.Duration {
	next := base
	if prev > 0 {
		next = 2 * prev
	}
	next += time.Duration(rand.Int63n(int64(base))) //nolint:gosec // non-crypto backoff jitter
	if maxDelay > 0 && next > maxDelay {
		return maxDelay
	}
	return next
}
