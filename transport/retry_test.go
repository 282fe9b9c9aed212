package transport

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(9))
	assert.Equal(t, 30*time.Second, p.Delay(64))
}

func TestRetryPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 1, RetryPolicy{MaxRetries: 0}.Attempts())
	assert.Equal(t, 1, RetryPolicy{MaxRetries: -2}.Attempts())
	assert.Equal(t, 3, RetryPolicy{MaxRetries: 3}.Attempts())
}

func TestRetryPolicy_NewBackOffMatchesDelays(t *testing.T) {
	p := RetryPolicy{MaxRetries: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	b := p.NewBackOff(context.Background())

	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 400*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryPolicy_NewBackOffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := DefaultRetryPolicy().NewBackOff(ctx)
	cancel()

	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
