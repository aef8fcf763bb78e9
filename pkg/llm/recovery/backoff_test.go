package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoffIsFixed(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, 2*time.Second, b.NextDelay(attempt))
	}
}

func TestBackoffExponentialWithCap(t *testing.T) {
	b := Backoff{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, b.NextDelay(1))
	assert.Equal(t, 2*time.Second, b.NextDelay(2))
	assert.Equal(t, 4*time.Second, b.NextDelay(3))
	assert.Equal(t, 5*time.Second, b.NextDelay(4))
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Backoff{InitialDelay: time.Hour}.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, Backoff{}.Wait(context.Background(), 1))
}
