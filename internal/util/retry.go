// ABOUTME: Retry utilities for provider calls with exponential backoff
// ABOUTME: Context-aware so cancellation stops a retry loop between attempts
package util

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// maxBackoff bounds a single wait between attempts
const maxBackoff = 30 * time.Second

// CalculateBackoff returns exponential backoff with jitter
// Base delay is doubled each attempt, with random jitter up to 25%
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	half := int64(backoff) / 2
	if half <= 0 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(half)) - backoff/4
	return backoff + jitter
}

// Retry calls fn up to maxRetries+1 times, sleeping with backoff between attempts.
// It returns the last error wrapped with the attempt count, or ctx.Err() if the
// context ends while waiting.
func Retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := CalculateBackoff(baseDelay, attempt)
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if permanent, ok := err.(*PermanentError); ok {
			return permanent.Err
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
	}

	return fmt.Errorf("giving up after %d attempts: %w", maxRetries+1, lastErr)
}

// PermanentError stops a Retry loop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
