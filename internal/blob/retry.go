package blob

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig is the Blob Client's exponential backoff policy (spec.md
// §4.1): base 100ms, factor 2, jitter ±25%, applied only to Throttled and
// TransientNetwork errors, up to MaxAttempts.
type RetryConfig struct {
	BaseDelay     time.Duration
	Factor        float64
	JitterPercent float64
	MaxAttempts   int
}

// DefaultRetryConfig returns the spec-mandated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:     100 * time.Millisecond,
		Factor:        2,
		JitterPercent: 0.25,
		MaxAttempts:   3,
	}
}

// delay returns the backoff duration to wait after failed attempt n
// (1-indexed), before attempt n+1: BaseDelay * Factor^(n-1), ±JitterPercent.
func (c RetryConfig) delay(n int) time.Duration {
	base := float64(c.BaseDelay)
	for i := 1; i < n; i++ {
		base *= c.Factor
	}
	jitter := base * c.JitterPercent
	d := base + (rand.Float64()*2-1)*jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// withRetry runs fn, retrying per cfg when it returns a retryable *Error.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return lastErr
}
