package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	// BackoffMultiplier is the growth factor between consecutive delays.
	BackoffMultiplier = 2.0
)

// RetryPolicy bounds the attempts made for one logical request.
// MaxRetries is the total number of attempts; values below one mean a single attempt.
// The delay after failed attempt n (starting at 1) is min(2^n * BaseDelay, MaxDelay).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the default policy: 3 attempts, 100ms base, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Attempts returns the number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// Delay returns the wait after failed attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// NewBackOff builds the backoff schedule for one logical request, bound to ctx.
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay(1)
	eb.Multiplier = BackoffMultiplier
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := uint64(p.Attempts() - 1) //nolint:gosec // Attempts is always >= 1
	return backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)
}

// realTimer adapts time.Timer to backoff.Timer.
type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *realTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *realTimer) C() <-chan time.Time {
	return t.timer.C
}
