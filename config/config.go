// Package config holds the agent options supplied by the embedding
// application. Options are validated exactly once when the agent is
// composed; invalid options are a fatal startup error, never coerced.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/metadata"
)

const (
	// DefaultEnvironment is used when Environment is empty.
	DefaultEnvironment = "production"

	// DefaultHeartbeatInterval is the pause between heartbeat cycles.
	DefaultHeartbeatInterval = 30 * time.Second

	// MinHeartbeatInterval is the lowest accepted interval.
	MinHeartbeatInterval = 5 * time.Second

	// DefaultRetryAttempts is the number of retries per heartbeat cycle.
	DefaultRetryAttempts = 3

	// MaxRetryAttempts bounds RetryAttempts.
	MaxRetryAttempts = 10
)

// Options configures the service monitor agent.
type Options struct {
	// DashboardURL is the absolute base URL of the monitoring dashboard.
	// Required.
	DashboardURL string

	// APIKey is sent as X-API-Key on every request. Required.
	APIKey string

	// ServiceName identifies the monitored service. Required.
	ServiceName string

	// Environment where the service runs (e.g. "staging").
	// Default: "production"
	Environment string

	// Version of the service. Optional.
	Version string

	// Hostname overrides the machine hostname. Optional.
	Hostname string

	// Port overrides the detected listening port. Zero means detect.
	Port int

	// URL overrides the detected service URL. Optional.
	URL string

	// InstanceID is a suggested instance identifier. The dashboard may
	// assign a different one; its answer always wins.
	InstanceID string

	// HeartbeatInterval between heartbeat cycles.
	// Default: 30 seconds, minimum 5 seconds.
	HeartbeatInterval time.Duration

	// RetryAttempts per heartbeat cycle, in [0, 10].
	// Default: 3
	RetryAttempts int

	// EnableMetrics adds CPU, memory and thread count to heartbeats.
	EnableMetrics bool

	// EnableLogging gates every log entry written by the agent.
	// Default: true
	EnableLogging bool

	// Deployment provenance. Empty values are omitted from registration.
	BuildID            string
	ReleaseID          string
	BuildDate          time.Time
	DeploymentDate     time.Time
	CommitHash         string
	Branch             string
	BuildConfiguration string

	// DeploymentMetadata holds caller-supplied keys. They are sent with a
	// "custom_" prefix so they never collide with reserved keys.
	DeploymentMetadata metadata.Bag
}

// DefaultOptions returns options with defaults applied and required fields empty.
func DefaultOptions() Options {
	return Options{
		Environment:       DefaultEnvironment,
		HeartbeatInterval: DefaultHeartbeatInterval,
		RetryAttempts:     DefaultRetryAttempts,
		EnableLogging:     true,
	}
}

// Validate checks the options. Every failure is a CONFIG_INVALID error
// naming the offending field.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.DashboardURL) == "" {
		return errors.ConfigInvalid("DashboardURL", "DashboardURL is required")
	}
	if strings.TrimSpace(o.APIKey) == "" {
		return errors.ConfigInvalid("ApiKey", "ApiKey is required")
	}
	if strings.TrimSpace(o.ServiceName) == "" {
		return errors.ConfigInvalid("ServiceName", "ServiceName is required")
	}
	if !isAbsoluteURL(o.DashboardURL) {
		return errors.ConfigInvalid("DashboardURL", "DashboardURL must be a valid absolute URL")
	}
	if o.HeartbeatInterval < MinHeartbeatInterval {
		return errors.ConfigInvalid("HeartbeatInterval", "HeartbeatInterval must be at least 5 seconds")
	}
	if o.RetryAttempts < 0 || o.RetryAttempts > MaxRetryAttempts {
		return errors.ConfigInvalid("RetryAttempts", "RetryAttempts must be between 0 and 10")
	}
	if o.Port < 0 || o.Port > 65535 {
		return errors.ConfigInvalid("Port", "Port must be between 1 and 65535")
	}
	return nil
}

// EffectiveEnvironment returns Environment or the default.
func (o *Options) EffectiveEnvironment() string {
	if o.Environment == "" {
		return DefaultEnvironment
	}
	return o.Environment
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
