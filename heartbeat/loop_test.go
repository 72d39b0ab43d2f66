package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/identity"
	"github.com/vinayprograms/servicemonitor/metadata"
	"github.com/vinayprograms/servicemonitor/procmetrics"
)

// --- Test doubles ---

type fakePoster struct {
	mu    sync.Mutex
	reqs  []*Request
	fail  func(n int) error
	calls chan struct{}
}

func newFakePoster(fail func(n int) error) *fakePoster {
	return &fakePoster{fail: fail, calls: make(chan struct{}, 64)}
}

func (p *fakePoster) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	if path != HeartbeatPath {
		return fmt.Errorf("unexpected path %q", path)
	}
	p.mu.Lock()
	p.reqs = append(p.reqs, body.(*Request))
	n := len(p.reqs)
	p.mu.Unlock()

	select {
	case p.calls <- struct{}{}:
	default:
	}
	if p.fail != nil {
		return p.fail(n)
	}
	return nil
}

func (p *fakePoster) requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.reqs))
	copy(out, p.reqs)
	return out
}

// fakeTimer fires immediately and records every requested delay.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	ch     chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{ch: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.ch <- time.Now()
}

func (t *fakeTimer) Stop()               {}
func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) recorded() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

func transportDown(int) error {
	return errors.TransportFailure("connection refused")
}

// stopAfterCycles returns a sleep hook that cancels the loop once n
// cycles have completed.
func stopAfterCycles(n int, cancel context.CancelFunc) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	count := 0
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		count++
		done := count >= n
		mu.Unlock()
		if done {
			cancel()
			return context.Canceled
		}
		return nil
	}
}

func registeredCell(t *testing.T) (*identity.Cell, uuid.UUID) {
	t.Helper()
	cell := identity.NewCell()
	id := uuid.New()
	require.True(t, cell.Set(id), "fresh cell refused Set")
	return cell, id
}

func runLoop(t *testing.T, l *Loop, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// --- Configuration ---

func TestLoopConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoopConfig
		wantErr bool
	}{
		{"defaults", DefaultLoopConfig(), false},
		{"zero values", LoopConfig{}, false},
		{"negative interval", LoopConfig{Interval: -time.Second}, true},
		{"negative retries", LoopConfig{RetryAttempts: -1}, true},
		{"negative timeout", LoopConfig{RegistrationTimeout: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLoop_RequiresCollaborators(t *testing.T) {
	_, err := NewLoop(DefaultLoopConfig(), nil, identity.NewCell())
	assert.ErrorIs(t, err, ErrInvalidConfig, "nil client")
	_, err = NewLoop(DefaultLoopConfig(), newFakePoster(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "nil cell")
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateWaitingForRegistration: "waiting_for_registration",
		StateRunning:                "running",
		StateStopped:                "stopped",
		State(42):                   "unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestRetryDelays(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	assert.Equal(t, want, RetryDelays(2*time.Second, 3))
	assert.Empty(t, RetryDelays(2*time.Second, 0))
}

// --- Sending ---

func TestLoop_SendsInstanceIDAndTimestamp(t *testing.T) {
	cell, id := registeredCell(t)
	poster := newFakePoster(nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := NewLoop(LoopConfig{Interval: 5 * time.Second}, poster, cell,
		WithClock(func() time.Time { return now }),
		WithSleep(stopAfterCycles(2, cancel)),
	)
	require.NoError(t, err)
	runLoop(t, l, ctx)

	reqs := poster.requests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, id, r.InstanceID)
		ts, ok := r.Metadata[metadata.KeyTimestamp].AsTime()
		assert.True(t, ok)
		assert.True(t, ts.Equal(now), "timestamp = %v, want %v", ts, now)
		_, ok = r.Metadata.Get(metadata.KeyCPUPercent)
		assert.False(t, ok, "metrics present although disabled")
	}
	assert.EqualValues(t, 2, l.Sent())
	assert.EqualValues(t, 2, l.Cycles())
	assert.Equal(t, StateStopped, l.State())
}

func TestLoop_RetriesWithDoublingDelays(t *testing.T) {
	cell, _ := registeredCell(t)
	poster := newFakePoster(transportDown)
	timer := newFakeTimer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := NewLoop(LoopConfig{Interval: 5 * time.Second, RetryAttempts: 3}, poster, cell,
		WithRetryTimer(func() backoff.Timer { return timer }),
		WithSleep(stopAfterCycles(1, cancel)),
	)
	runLoop(t, l, ctx)

	assert.Len(t, poster.requests(), 4, "1 attempt + 3 retries")
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	assert.Equal(t, want, timer.recorded())
	assert.Zero(t, l.Sent())
	assert.EqualValues(t, 1, l.Cycles(), "abandoned cycle should still complete")
}

func TestLoop_RecoversOnRetry(t *testing.T) {
	cell, _ := registeredCell(t)
	poster := newFakePoster(func(n int) error {
		if n < 3 {
			return errors.TransportFailure("503")
		}
		return nil
	})
	timer := newFakeTimer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := NewLoop(LoopConfig{RetryAttempts: 3}, poster, cell,
		WithRetryTimer(func() backoff.Timer { return timer }),
		WithSleep(stopAfterCycles(1, cancel)),
	)
	runLoop(t, l, ctx)

	assert.Len(t, poster.requests(), 3)
	assert.EqualValues(t, 1, l.Sent())
}

func TestLoop_ZeroRetries(t *testing.T) {
	cell, _ := registeredCell(t)
	poster := newFakePoster(transportDown)
	timer := newFakeTimer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := NewLoop(LoopConfig{RetryAttempts: 0}, poster, cell,
		WithRetryTimer(func() backoff.Timer { return timer }),
		WithSleep(stopAfterCycles(1, cancel)),
	)
	runLoop(t, l, ctx)

	assert.Len(t, poster.requests(), 1)
	assert.Empty(t, timer.recorded(), "no retry delay expected")
}

func TestLoop_NonRetryableErrorIsNotRetried(t *testing.T) {
	cell, _ := registeredCell(t)
	poster := newFakePoster(func(int) error { return errors.ProtocolFailure("bad body") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := NewLoop(LoopConfig{RetryAttempts: 5}, poster, cell,
		WithRetryTimer(func() backoff.Timer { return newFakeTimer() }),
		WithSleep(stopAfterCycles(1, cancel)),
	)
	runLoop(t, l, ctx)

	assert.Len(t, poster.requests(), 1)
}

// --- Metrics ---

func TestLoop_IncludesMetrics(t *testing.T) {
	cell, _ := registeredCell(t)
	poster := newFakePoster(nil)
	sampler := procmetrics.SamplerFunc(func(context.Context) (procmetrics.Usage, error) {
		return procmetrics.Usage{CPUPercent: 12.5, MemoryMB: 64.25, ThreadCount: 9}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := NewLoop(LoopConfig{EnableMetrics: true}, poster, cell,
		WithSampler(sampler),
		WithSleep(stopAfterCycles(1, cancel)),
	)
	runLoop(t, l, ctx)

	reqs := poster.requests()
	require.Len(t, reqs, 1)
	md := reqs[0].Metadata
	for _, key := range []string{metadata.KeyTimestamp, metadata.KeyCPUPercent, metadata.KeyMemoryMB, metadata.KeyThreadCount} {
		assert.Contains(t, md, key)
	}
	cpu, _ := md[metadata.KeyCPUPercent].AsFloat()
	assert.Equal(t, 12.5, cpu)
	threads, _ := md[metadata.KeyThreadCount].AsInt()
	assert.EqualValues(t, 9, threads)
}

func TestLoop_SamplerFailureStillSends(t *testing.T) {
	samplers := map[string]procmetrics.Sampler{
		"error": procmetrics.SamplerFunc(func(context.Context) (procmetrics.Usage, error) {
			return procmetrics.Usage{}, fmt.Errorf("no /proc")
		}),
		"panic": procmetrics.SamplerFunc(func(context.Context) (procmetrics.Usage, error) {
			panic("sampler exploded")
		}),
	}
	for name, sampler := range samplers {
		t.Run(name, func(t *testing.T) {
			cell, _ := registeredCell(t)
			poster := newFakePoster(nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			l, _ := NewLoop(LoopConfig{EnableMetrics: true}, poster, cell,
				WithSampler(sampler),
				WithSleep(stopAfterCycles(1, cancel)),
			)
			runLoop(t, l, ctx)

			reqs := poster.requests()
			require.Len(t, reqs, 1)
			assert.Contains(t, reqs[0].Metadata, metadata.KeyTimestamp)
			assert.NotContains(t, reqs[0].Metadata, metadata.KeyCPUPercent, "metrics should be skipped")
		})
	}
}

// --- Registration wait ---

func TestLoop_RegistrationTimeoutSendsNothing(t *testing.T) {
	poster := newFakePoster(nil)
	l, _ := NewLoop(LoopConfig{RegistrationTimeout: 50 * time.Millisecond}, poster, identity.NewCell())

	start := time.Now()
	runLoop(t, l, context.Background())

	elapsed := time.Since(start)
	assert.True(t, elapsed >= 50*time.Millisecond, "returned after %v, before the timeout", elapsed)
	assert.Empty(t, poster.requests())
	assert.Equal(t, StateStopped, l.State())
}

func TestLoop_StartsWhenRegistrationArrives(t *testing.T) {
	cell := identity.NewCell()
	poster := newFakePoster(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, _ := NewLoop(LoopConfig{Interval: time.Hour}, poster, cell)
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateWaitingForRegistration, l.State())

	id := uuid.New()
	cell.Set(id)

	select {
	case <-poster.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat after registration")
	}
	assert.Equal(t, StateRunning, l.State())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop during interval sleep")
	}
	assert.Equal(t, id, poster.requests()[0].InstanceID)
	assert.Equal(t, StateStopped, l.State())
}

func TestLoop_CancelWhileWaiting(t *testing.T) {
	poster := newFakePoster(nil)
	l, _ := NewLoop(DefaultLoopConfig(), poster, identity.NewCell())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	runLoop(t, l, ctx)

	assert.Empty(t, poster.requests())
}

func TestLoop_RunTwice(t *testing.T) {
	cell, _ := registeredCell(t)
	l, _ := NewLoop(DefaultLoopConfig(), newFakePoster(nil), cell)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = l.Run(ctx)

	assert.ErrorIs(t, l.Run(ctx), ErrAlreadyStarted)
}
