package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/identity"
	"github.com/vinayprograms/servicemonitor/logging"
	"github.com/vinayprograms/servicemonitor/metadata"
	"github.com/vinayprograms/servicemonitor/procmetrics"
	"github.com/vinayprograms/servicemonitor/telemetry"
)

// Loop sends heartbeats for the instance id held in an identity cell.
type Loop struct {
	cfg     LoopConfig
	client  Poster
	cell    *identity.Cell
	sampler procmetrics.Sampler
	log     *logging.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics

	now      func() time.Time
	newTimer func() backoff.Timer
	sleep    func(ctx context.Context, d time.Duration) error

	state   atomic.Int32
	sent    atomic.Int64
	cycles  atomic.Int64
	running atomic.Bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithSampler sets the process metrics source used when metrics are
// enabled. Without one, heartbeats carry only the timestamp.
func WithSampler(s procmetrics.Sampler) Option {
	return func(l *Loop) { l.sampler = s }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithClock overrides time.Now for heartbeat timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithRetryTimer overrides the timer used between retry attempts.
func WithRetryTimer(fn func() backoff.Timer) Option {
	return func(l *Loop) { l.newTimer = fn }
}

// WithSleep overrides the cancellable sleep between cycles.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// NewLoop creates a heartbeat loop reading its instance id from cell.
func NewLoop(cfg LoopConfig, client Poster, cell *identity.Cell, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil || cell == nil {
		return nil, ErrInvalidConfig
	}

	defaults := DefaultLoopConfig()
	if cfg.Interval == 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.RegistrationTimeout == 0 {
		cfg.RegistrationTimeout = defaults.RegistrationTimeout
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}

	l := &Loop{
		cfg:      cfg,
		client:   client,
		cell:     cell,
		log:      logging.Nop(),
		tracer:   telemetry.GetTracer(),
		now:      time.Now,
		newTimer: func() backoff.Timer { return &realTimer{} },
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Sent returns the number of heartbeats the dashboard accepted.
func (l *Loop) Sent() int64 {
	return l.sent.Load()
}

// Cycles returns the number of completed cycles, successful or abandoned.
func (l *Loop) Cycles() int64 {
	return l.cycles.Load()
}

// Run waits for registration and then sends heartbeats until ctx is done.
// Send failures never escape; Run returns nil once stopped, or
// ErrAlreadyStarted if called twice.
func (l *Loop) Run(ctx context.Context) error {
	if l.running.Swap(true) {
		return ErrAlreadyStarted
	}
	defer l.state.Store(int32(StateStopped))

	id, ok := l.waitForRegistration(ctx)
	if !ok {
		return nil
	}

	l.state.Store(int32(StateRunning))
	l.log.HeartbeatLoopStarted(id.String(), l.cfg.Interval)

	for {
		if ctx.Err() != nil {
			l.log.HeartbeatLoopStopped("canceled")
			return nil
		}
		l.cycle(ctx, id)
		l.cycles.Add(1)

		if err := l.sleep(ctx, l.cfg.Interval); err != nil {
			l.log.HeartbeatLoopStopped("canceled")
			return nil
		}
	}
}

func (l *Loop) waitForRegistration(ctx context.Context) (uuid.UUID, bool) {
	if id, ok := l.cell.Get(); ok {
		return id, true
	}

	timer := time.NewTimer(l.cfg.RegistrationTimeout)
	defer timer.Stop()

	select {
	case <-l.cell.Ready():
		return l.cell.Get()
	case <-timer.C:
		l.log.Warn("instance id not assigned in time, heartbeats disabled", map[string]interface{}{
			"timeout": l.cfg.RegistrationTimeout.String(),
		})
		l.log.HeartbeatLoopStopped("registration_timeout")
		return uuid.Nil, false
	case <-ctx.Done():
		l.log.HeartbeatLoopStopped("canceled")
		return uuid.Nil, false
	}
}

// cycle sends one heartbeat, retrying transient failures.
func (l *Loop) cycle(ctx context.Context, id uuid.UUID) {
	ctx, span := l.tracer.StartHeartbeatSpan(ctx)

	req := &Request{InstanceID: id, Metadata: l.buildMetadata(ctx)}
	maxAttempts := l.cfg.RetryAttempts + 1
	attempts := 0

	send := func() error {
		attempts++
		err := l.client.PostJSON(ctx, HeartbeatPath, req, nil)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		l.metrics.HeartbeatRetried()
		l.log.HeartbeatRetry(attempts, maxAttempts, delay, err)
	}

	policy := newRetryPolicy(ctx, l.cfg.InitialBackoff, l.cfg.RetryAttempts)
	err := backoff.RetryNotifyWithTimer(send, policy, notify, l.newTimer())

	l.tracer.EndHeartbeatSpan(span, telemetry.HeartbeatSpanOptions{
		InstanceID: id.String(),
		Attempts:   attempts,
		Metrics:    l.cfg.EnableMetrics,
	}, err)

	switch {
	case err == nil:
		l.sent.Add(1)
		l.metrics.HeartbeatDone(nil)
		l.log.HeartbeatSent(id.String())
	case ctx.Err() != nil:
		// Shutdown interrupted the cycle; Run reports the stop.
	default:
		l.metrics.HeartbeatDone(err)
		l.log.HeartbeatAbandoned(attempts, err)
	}
}

func (l *Loop) buildMetadata(ctx context.Context) metadata.Bag {
	md := metadata.New()
	md.Set(metadata.KeyTimestamp, metadata.Time(l.now()))

	if !l.cfg.EnableMetrics || l.sampler == nil {
		return md
	}
	usage, err := l.sample(ctx)
	if err != nil {
		l.log.MetricsUnavailable(err)
		return md
	}
	md.Set(metadata.KeyCPUPercent, metadata.Float(usage.CPUPercent))
	md.Set(metadata.KeyMemoryMB, metadata.Float(usage.MemoryMB))
	md.Set(metadata.KeyThreadCount, metadata.Int(int64(usage.ThreadCount)))
	return md
}

func (l *Loop) sample(ctx context.Context) (usage procmetrics.Usage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return l.sampler.Sample(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
