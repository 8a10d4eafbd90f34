package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter for bounded retry loops.
type Backoff struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      float64
}

// NewBackoff creates a Backoff allowing maxAttempts tries.
// Delay for attempt n is baseDelay * 2^n plus up to 50% jitter.
func NewBackoff(maxAttempts int, baseDelay time.Duration) *Backoff {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Backoff{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    baseDelay * 1024,
		jitter:      0.5,
	}
}

func (b *Backoff) MaxAttempts() int {
	return b.maxAttempts
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	backoff := b.baseDelay * time.Duration(1<<attempt)
	if b.maxDelay > 0 && backoff > b.maxDelay {
		backoff = b.maxDelay
	}

	if span := int64(float64(backoff) * b.jitter); span > 0 {
		backoff += time.Duration(rand.Int63n(span + 1))
	}

	return backoff
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Linear returns step * attempt, the short pause between invoice number rounds.
func Linear(step time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return step * time.Duration(attempt)
}
