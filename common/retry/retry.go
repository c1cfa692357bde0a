// Package retry retries transient failures with exponential backoff.
//
//	err := retry.Do(ctx, retry.Once, func() error {
//	    return st.AddMessage(ctx, msg)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls Do.
type Config struct {
	// MaxAttempts counts the first call. Values <= 0 mean a single attempt.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; it doubles up to
	// MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ShouldRetry classifies errors. Nil retries every error.
	ShouldRetry func(err error) bool
}

// DefaultConfig suits short network calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Once allows a single quick retry. It is used for local store writes that
// can fail on a transient lock.
var Once = Config{
	MaxAttempts:  2,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     50 * time.Millisecond,
}

// Do calls fn until it succeeds, ShouldRetry rejects its error, attempts run
// out, or ctx is done. The last error from fn is returned, joined with the
// context error when cancellation ended the loop.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(error) bool { return true }
	}
	b := NewBackoff(cfg.InitialDelay, cfg.MaxDelay)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil || !cfg.ShouldRetry(lastErr) || attempt >= cfg.MaxAttempts {
			return lastErr
		}

		delay := b.Next()
		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt,
			"max", cfg.MaxAttempts,
			"delay", delay,
			"err", lastErr,
		)
		if err := Sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
}

// Backoff yields exponentially growing delays between Min and Max. It is
// not safe for concurrent use.
type Backoff struct {
	Min, Max time.Duration
	next     time.Duration
}

// NewBackoff returns a Backoff. Non-positive bounds fall back to
// DefaultConfig's delays.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = DefaultConfig.InitialDelay
	}
	if max < min {
		max = min
		if DefaultConfig.MaxDelay > max {
			max = DefaultConfig.MaxDelay
		}
	}
	return &Backoff{Min: min, Max: max}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Min
	}
	d := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	return d
}

// Reset starts the sequence again from Min. Call it after a success.
func (b *Backoff) Reset() {
	b.next = 0
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
