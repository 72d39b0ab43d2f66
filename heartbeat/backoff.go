package heartbeat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxBackoff caps a single retry delay (2s doubled ten times).
const maxBackoff = 1024 * time.Second

// newRetryPolicy returns a deterministic doubling backoff that allows
// retries retries after the first attempt and stops early when ctx ends.
func newRetryPolicy(ctx context.Context, initial time.Duration, retries int) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// RetryDelays lists the delays the policy produces for the given number of
// retries. Useful for logging the schedule up front.
func RetryDelays(initial time.Duration, retries int) []time.Duration {
	b := newRetryPolicy(context.Background(), initial, retries)
	var out []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
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
