package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	monerrors "github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/logging"
)

// Lifecycle sequences host start, started and stop hooks.
type Lifecycle struct {
	config Config
	log    *logging.Logger

	mu        sync.Mutex
	startHks  []hook
	readyHks  []hook
	stoppers  []stopRegistration
	started   atomic.Bool
	readyOnce sync.Once
	ready     chan struct{}

	shutdownOnce  sync.Once
	shutdownErr   error
	done          chan struct{}
	result        *Result
	signalChan    chan os.Signal
	shutdownStart time.Time
}

// New creates a Lifecycle.
func New(config Config) *Lifecycle {
	defaults := DefaultConfig()
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = defaults.DefaultPhase
	}
	log := config.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Lifecycle{
		config:     config,
		log:        log.WithComponent("lifecycle"),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// OnStart registers a hook run by Start.
func (l *Lifecycle) OnStart(name string, fn Hook) {
	l.mu.Lock()
	l.startHks = append(l.startHks, hook{name: name, fn: fn})
	l.mu.Unlock()
}

// OnStarted registers a hook run by MarkStarted.
func (l *Lifecycle) OnStarted(name string, fn Hook) {
	l.mu.Lock()
	l.readyHks = append(l.readyHks, hook{name: name, fn: fn})
	l.mu.Unlock()
}

// OnStop registers a stop handler. phase 0 uses the configured default.
func (l *Lifecycle) OnStop(name string, handler StopHandler, phase int) {
	if phase == 0 {
		phase = l.config.DefaultPhase
	}
	l.mu.Lock()
	l.stoppers = append(l.stoppers, stopRegistration{name: name, handler: handler, phase: phase})
	l.mu.Unlock()
}

// Start runs the start hooks in registration order. Every hook runs even
// if an earlier one fails; the results are returned.
func (l *Lifecycle) Start(ctx context.Context) ([]HookResult, error) {
	if l.started.Swap(true) {
		return nil, ErrAlreadyStarted
	}
	return l.runHooks(ctx, "start", l.snapshot(&l.startHks))
}

// MarkStarted runs the started hooks. Only the first call has an effect.
func (l *Lifecycle) MarkStarted(ctx context.Context) []HookResult {
	var results []HookResult
	l.readyOnce.Do(func() {
		results, _ = l.runHooks(ctx, "started", l.snapshot(&l.readyHks))
		close(l.ready)
	})
	return results
}

// Ready is closed once MarkStarted has run its hooks.
func (l *Lifecycle) Ready() <-chan struct{} {
	return l.ready
}

func (l *Lifecycle) snapshot(hooks *[]hook) []hook {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]hook, len(*hooks))
	copy(out, *hooks)
	return out
}

func (l *Lifecycle) runHooks(ctx context.Context, stage string, hooks []hook) ([]HookResult, error) {
	results := make([]HookResult, 0, len(hooks))
	var err error
	for _, h := range hooks {
		hr := runSafely(ctx, h.name, 0, h.fn)
		results = append(results, hr)
		if hr.Err != nil {
			err = ErrHookFailed
			l.log.Warn("lifecycle hook failed", map[string]interface{}{
				"stage": stage, "hook": h.name, "error": hr.Err,
			})
			continue
		}
		l.log.Debug("lifecycle hook done", map[string]interface{}{
			"stage": stage, "hook": h.name, "duration_ms": hr.Duration.Milliseconds(),
		})
	}
	return results, err
}

// runSafely calls fn, converting a panic into an error.
func runSafely(ctx context.Context, name string, phase int, fn func(context.Context) error) (hr HookResult) {
	start := time.Now()
	hr = HookResult{Name: name, Phase: phase}
	defer func() {
		if r := recover(); r != nil {
			hr.Err = monerrors.RecoverPanic(r)
		}
		hr.Duration = time.Since(start)
	}()
	hr.Err = fn(ctx)
	return hr
}

// Shutdown runs the stop handlers by phase. Only the first call does the
// work; concurrent and later calls wait for it and return its error.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	var err error
	ran := false
	l.shutdownOnce.Do(func() {
		ran = true
		l.shutdownStart = time.Now()
		err = l.doShutdown(ctx)
		l.shutdownErr = err
		close(l.done)
	})
	if ran {
		return err
	}
	<-l.done
	return l.shutdownErr
}

// ShutdownWithTimeout calls Shutdown with a fresh deadline. timeout 0 uses
// the configured ShutdownTimeout.
func (l *Lifecycle) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = l.config.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Shutdown(ctx)
}

// HandleSignals shuts down on SIGTERM or SIGINT.
func (l *Lifecycle) HandleSignals() {
	signal.Notify(l.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-l.signalChan:
			l.log.Info("signal received, shutting down", map[string]interface{}{"signal": sig.String()})
			_ = l.ShutdownWithTimeout(l.config.ShutdownTimeout)
		case <-l.done:
		}
		signal.Stop(l.signalChan)
	}()
}

// Trigger simulates a SIGTERM. Only effective after HandleSignals.
func (l *Lifecycle) Trigger() {
	select {
	case l.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown is complete.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Err returns the shutdown error once Done is closed.
func (l *Lifecycle) Err() error {
	select {
	case <-l.done:
		return l.shutdownErr
	default:
		return nil
	}
}

// Result returns the detailed shutdown result once Done is closed.
func (l *Lifecycle) Result() *Result {
	select {
	case <-l.done:
		return l.result
	default:
		return nil
	}
}

func (l *Lifecycle) doShutdown(ctx context.Context) error {
	l.mu.Lock()
	stoppers := make([]stopRegistration, len(l.stoppers))
	copy(stoppers, l.stoppers)
	l.mu.Unlock()

	sort.SliceStable(stoppers, func(i, j int) bool {
		return stoppers[i].phase < stoppers[j].phase
	})

	result := &Result{Results: make([]HookResult, 0, len(stoppers))}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(l.shutdownStart)
		l.result = result
		return err
	}

	var overallErr error
	for _, group := range groupByPhase(stoppers) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}

		phaseResults := l.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err == nil {
				continue
			}
			l.log.Warn("stop handler failed", map[string]interface{}{
				"hook": hr.Name, "phase": hr.Phase, "error": hr.Err,
			})
			if overallErr == nil {
				overallErr = ErrHookFailed
			}
			if !l.config.ContinueOnError {
				return finish(overallErr)
			}
		}
	}
	return finish(overallErr)
}

// executePhase runs all handlers in a phase concurrently.
func (l *Lifecycle) executePhase(ctx context.Context, group []stopRegistration) []HookResult {
	results := make([]HookResult, len(group))
	var wg sync.WaitGroup

	for i, reg := range group {
		wg.Add(1)
		go func(idx int, r stopRegistration) {
			defer wg.Done()
			hr := runSafely(ctx, r.name, r.phase, r.handler.OnStop)
			results[idx] = hr
			if l.config.OnProgress != nil {
				l.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits phase-sorted registrations into runs of equal phase.
func groupByPhase(regs []stopRegistration) [][]stopRegistration {
	if len(regs) == 0 {
		return nil
	}

	var groups [][]stopRegistration
	var current []stopRegistration
	phase := regs[0].phase

	for _, r := range regs {
		if r.phase != phase {
			groups = append(groups, current)
			current = nil
			phase = r.phase
		}
		current = append(current, r)
	}
	return append(groups, current)
}
