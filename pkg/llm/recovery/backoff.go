package recovery

import (
	"context"
	"math"
	"time"
)

// Backoff controls the delay between retries of a transient failure.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultBackoff waits a fixed 2s between attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		Multiplier:   1,
		MaxDelay:     30 * time.Second,
	}
}

// NextDelay returns the delay before retry number attempt (1-indexed):
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (b Backoff) NextDelay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// Wait sleeps for the delay of attempt or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	d := b.NextDelay(attempt)
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
