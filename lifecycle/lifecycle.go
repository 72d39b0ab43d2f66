package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/servicemonitor/logging"
)

// Common errors.
var (
	// ErrAlreadyStarted indicates Start was already called.
	ErrAlreadyStarted = errors.New("lifecycle already started")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHookFailed indicates one or more hooks failed.
	ErrHookFailed = errors.New("one or more hooks failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Stop phases. Lower phases stop first.
const (
	PhaseServer     = 10
	PhaseBackground = 50
	PhaseDefault    = 100
	PhaseTelemetry  = 200
)

// Hook runs at start or once the host is serving.
type Hook func(ctx context.Context) error

// StopHandler is implemented by components that need graceful shutdown.
type StopHandler interface {
	// OnStop is called when shutdown is initiated. ctx is cancelled when
	// the shutdown timeout is reached.
	OnStop(ctx context.Context) error
}

// StopFunc adapts a function to StopHandler.
type StopFunc func(ctx context.Context) error

// OnStop implements StopHandler.
func (f StopFunc) OnStop(ctx context.Context) error {
	return f(ctx)
}

// HookResult is the outcome of one hook or stop handler.
type HookResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HookResult
	Err           error
}

// Failed reports whether any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Lifecycle.
type Config struct {
	// ShutdownTimeout bounds ShutdownWithTimeout(0) and signal-triggered
	// shutdowns.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// DefaultPhase is assigned by OnStop when phase is 0.
	// Default: PhaseDefault
	DefaultPhase int

	// ContinueOnError keeps running later phases after a failure.
	// Default: true
	ContinueOnError bool

	// Logger receives one entry per hook. Default: no logging.
	Logger *logging.Logger

	// OnProgress is called when each stop handler completes.
	OnProgress func(result HookResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ShutdownTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 30 * time.Second,
		DefaultPhase:    PhaseDefault,
		ContinueOnError: true,
	}
}

type hook struct {
	name string
	fn   Hook
}

type stopRegistration struct {
	name    string
	handler StopHandler
	phase   int
}
