package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/servicemonitor/metadata"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// HeartbeatPath is the dashboard endpoint for heartbeats.
const HeartbeatPath = "/api/services/heartbeat"

// Request is one heartbeat on the wire.
type Request struct {
	// InstanceID is the dashboard-assigned instance id.
	InstanceID uuid.UUID `json:"instanceId"`

	// Metadata always carries timestamp, plus cpu_percent, memory_mb and
	// thread_count when metrics are enabled and sampling succeeded.
	Metadata metadata.Bag `json:"metadata"`
}

// Poster sends one JSON request. *transport.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, path string, body, out interface{}) error
}

// State is the loop's lifecycle state.
type State int32

const (
	StateWaitingForRegistration State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaitingForRegistration:
		return "waiting_for_registration"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LoopConfig configures a heartbeat loop.
type LoopConfig struct {
	// Interval between the end of one cycle and the start of the next.
	// Default: 30 seconds
	Interval time.Duration

	// RetryAttempts is the number of retries after a failed send.
	// Default: 3
	RetryAttempts int

	// EnableMetrics adds process resource usage to each heartbeat.
	EnableMetrics bool

	// RegistrationTimeout bounds the wait for an instance id.
	// Default: 30 seconds
	RegistrationTimeout time.Duration

	// InitialBackoff is the delay before the first retry; each later retry
	// doubles it.
	// Default: 2 seconds
	InitialBackoff time.Duration
}

// Validate checks the configuration.
func (c *LoopConfig) Validate() error {
	if c.Interval < 0 || c.RegistrationTimeout < 0 || c.InitialBackoff < 0 {
		return ErrInvalidConfig
	}
	if c.RetryAttempts < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultLoopConfig returns configuration with sensible defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval:            30 * time.Second,
		RetryAttempts:       3,
		RegistrationTimeout: 30 * time.Second,
		InitialBackoff:      2 * time.Second,
	}
}
