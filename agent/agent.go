// Package agent wires the service monitor together: it validates options,
// registers the instance in the background, runs the heartbeat loop, and
// re-probes the listening address once the host is serving.
//
// Nothing the agent does can fail the host. Registration and heartbeat
// failures are logged; only invalid options are reported, and only from New.
package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/servicemonitor/config"
	monerrors "github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/heartbeat"
	"github.com/vinayprograms/servicemonitor/identity"
	"github.com/vinayprograms/servicemonitor/lifecycle"
	"github.com/vinayprograms/servicemonitor/logging"
	"github.com/vinayprograms/servicemonitor/probe"
	"github.com/vinayprograms/servicemonitor/procmetrics"
	"github.com/vinayprograms/servicemonitor/registrar"
	"github.com/vinayprograms/servicemonitor/telemetry"
	"github.com/vinayprograms/servicemonitor/transport"
)

// HookName is the name the agent registers its lifecycle hooks under.
const HookName = "servicemonitor"

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("agent already started")

// Address is a listening address found after the host started.
type Address struct {
	Port int
	URL  string
}

// Agent is the service monitor embedded in a host process.
type Agent struct {
	opts      config.Options
	log       *logging.Logger
	probe     *probe.Probe
	cell      *identity.Cell
	registrar *registrar.Registrar
	loop      *heartbeat.Loop
	metrics   *telemetry.Metrics

	started  atomic.Bool
	detected atomic.Pointer[Address]

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

type settings struct {
	source       probe.AddressSource
	probeOpts    []probe.Option
	logger       *logging.Logger
	httpClient   *http.Client
	sampler      procmetrics.Sampler
	registerer   prometheus.Registerer
	tracer       *telemetry.Tracer
	regTimeout   time.Duration
	loopOpts     []heartbeat.Option
	registerOpts []registrar.Option
}

// Option customizes an Agent.
type Option func(*settings)

// WithAddressSource sets where the host's listening addresses come from.
// Without one the port and URL are only known if configured.
func WithAddressSource(src probe.AddressSource, opts ...probe.Option) Option {
	return func(s *settings) {
		s.source = src
		s.probeOpts = opts
	}
}

// WithLogger replaces the default zap-backed logger. EnableLogging=false
// still silences it.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient sets the client used for every dashboard call.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithSampler replaces the gopsutil process sampler.
func WithSampler(sp procmetrics.Sampler) Option {
	return func(s *settings) { s.sampler = sp }
}

// WithMetricsRegisterer registers the agent's Prometheus collectors.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithTracer sets the tracer. Default: the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithRegistrationTimeout bounds how long heartbeats wait for registration.
// Default: 30 seconds.
func WithRegistrationTimeout(d time.Duration) Option {
	return func(s *settings) { s.regTimeout = d }
}

// WithHeartbeatOptions passes extra options to the heartbeat loop.
func WithHeartbeatOptions(opts ...heartbeat.Option) Option {
	return func(s *settings) { s.loopOpts = append(s.loopOpts, opts...) }
}

// WithRegistrarOptions passes extra options to the registrar.
func WithRegistrarOptions(opts ...registrar.Option) Option {
	return func(s *settings) { s.registerOpts = append(s.registerOpts, opts...) }
}

// New validates opts and builds an agent. No goroutine is started.
func New(opts config.Options, options ...Option) (*Agent, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var s settings
	for _, o := range options {
		o(&s)
	}

	log := s.logger
	switch {
	case !opts.EnableLogging:
		log = logging.Nop()
	case log == nil:
		log = logging.New(true)
	}
	log = log.WithComponent("servicemonitor")

	metrics, err := telemetry.NewMetrics(s.registerer)
	if err != nil {
		return nil, monerrors.Wrap(err, "registering agent metrics")
	}

	tracer := s.tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}

	sampler := s.sampler
	if opts.EnableMetrics && sampler == nil {
		ps, err := procmetrics.NewProcessSampler()
		if err != nil {
			log.MetricsUnavailable(err)
		} else {
			sampler = ps
		}
	}

	client := transport.NewClient(opts.DashboardURL, opts.APIKey, s.httpClient)
	cell := identity.NewCell()
	pr := probe.New(s.source, s.probeOpts...)

	reg := registrar.New(opts, client, cell, append([]registrar.Option{
		registrar.WithProber(pr),
		registrar.WithLogger(log.WithComponent("registrar")),
		registrar.WithTracer(tracer),
		registrar.WithMetrics(metrics),
	}, s.registerOpts...)...)

	loop, err := heartbeat.NewLoop(heartbeat.LoopConfig{
		Interval:            opts.HeartbeatInterval,
		RetryAttempts:       opts.RetryAttempts,
		EnableMetrics:       opts.EnableMetrics,
		RegistrationTimeout: s.regTimeout,
	}, client, cell, append([]heartbeat.Option{
		heartbeat.WithSampler(sampler),
		heartbeat.WithLogger(log.WithComponent("heartbeat")),
		heartbeat.WithTracer(tracer),
		heartbeat.WithMetrics(metrics),
	}, s.loopOpts...)...)
	if err != nil {
		return nil, monerrors.Wrap(err, "building heartbeat loop")
	}

	return &Agent{
		opts:      opts,
		log:       log,
		probe:     pr,
		cell:      cell,
		registrar: reg,
		loop:      loop,
		metrics:   metrics,
	}, nil
}

// Start registers the instance and runs the heartbeat loop in the
// background, then returns. Both stop when ctx is done or Stop is called.
// Start never reports registration failures; they are logged.
func (a *Agent) Start(ctx context.Context) error {
	if a.started.Swap(true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	a.mu.Lock()
	a.cancel = cancel
	a.group = g
	a.mu.Unlock()

	g.Go(func() error {
		a.safely("registration", func() { a.register(gctx) })
		return nil
	})
	g.Go(func() error {
		a.safely("heartbeat", func() { _ = a.loop.Run(gctx) })
		return nil
	})
	return nil
}

func (a *Agent) register(ctx context.Context) {
	if _, err := a.registrar.Register(ctx); err != nil {
		if monerrors.IsCanceled(err) {
			return
		}
		a.log.Warn("service monitoring inactive until registration succeeds", map[string]interface{}{
			"code": monerrors.Code(err).String(),
		})
	}
}

func (a *Agent) safely(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("background task panicked", map[string]interface{}{
				"task":  task,
				"error": monerrors.RecoverPanic(r),
			})
		}
	}()
	fn()
}

// Register performs one additional registration attempt. It is a no-op
// returning the stored id once registration has succeeded.
func (a *Agent) Register(ctx context.Context) (uuid.UUID, error) {
	if id, ok := a.cell.Get(); ok {
		return id, nil
	}
	return a.registrar.Register(ctx)
}

// OnStarted re-probes the listening address once the host serves traffic
// and logs it. The dashboard is not told about the new address.
func (a *Agent) OnStarted(ctx context.Context) error {
	u, ok := a.probe.DetectURL(ctx)
	if !ok {
		a.log.Debug("no listening address detected after startup")
		return nil
	}
	addr := &Address{URL: u}
	if port, ok := probe.PortOf(u); ok {
		addr.Port = port
	}
	a.detected.Store(addr)
	a.log.AddressDetected(addr.Port, addr.URL)
	return nil
}

// DetectedAddress returns the address found by OnStarted, if any.
func (a *Agent) DetectedAddress() (Address, bool) {
	addr := a.detected.Load()
	if addr == nil {
		return Address{}, false
	}
	return *addr, true
}

// Stop cancels the background work and waits for it, or for ctx.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, g := a.cancel, a.group
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.log.Sync()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach registers the agent's start, started and stop hooks.
func (a *Agent) Attach(lc *lifecycle.Lifecycle) {
	lc.OnStart(HookName, a.Start)
	lc.OnStarted(HookName, a.OnStarted)
	lc.OnStop(HookName, lifecycle.StopFunc(a.Stop), lifecycle.PhaseBackground)
}

// InstanceID returns the dashboard-assigned id once registered.
func (a *Agent) InstanceID() (uuid.UUID, bool) {
	return a.cell.Get()
}

// Ready reports whether registration has succeeded.
func (a *Agent) Ready() bool {
	return a.cell.IsSet()
}

// HeartbeatState returns the heartbeat loop state.
func (a *Agent) HeartbeatState() heartbeat.State {
	return a.loop.State()
}

// HeartbeatsSent returns the number of accepted heartbeats.
func (a *Agent) HeartbeatsSent() int64 {
	return a.loop.Sent()
}

// Metrics returns the agent's Prometheus collectors.
func (a *Agent) Metrics() *telemetry.Metrics {
	return a.metrics
}

// Options returns the validated options.
func (a *Agent) Options() config.Options {
	return a.opts
}
