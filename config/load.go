package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/servicemonitor/metadata"
)

// fileOptions mirrors Options in TOML form.
type fileOptions struct {
	DashboardURL       string                 `toml:"dashboard_url"`
	APIKey             string                 `toml:"api_key"`
	ServiceName        string                 `toml:"service_name"`
	Environment        string                 `toml:"environment"`
	Version            string                 `toml:"version"`
	Hostname           string                 `toml:"hostname"`
	Port               int                    `toml:"port"`
	URL                string                 `toml:"url"`
	InstanceID         string                 `toml:"instance_id"`
	HeartbeatInterval  string                 `toml:"heartbeat_interval"`
	RetryAttempts      *int                   `toml:"retry_attempts"`
	EnableMetrics      *bool                  `toml:"enable_metrics"`
	EnableLogging      *bool                  `toml:"enable_logging"`
	BuildID            string                 `toml:"build_id"`
	ReleaseID          string                 `toml:"release_id"`
	BuildDate          time.Time              `toml:"build_date"`
	DeploymentDate     time.Time              `toml:"deployment_date"`
	CommitHash         string                 `toml:"commit_hash"`
	Branch             string                 `toml:"branch"`
	BuildConfiguration string                 `toml:"build_configuration"`
	DeploymentMetadata map[string]interface{} `toml:"deployment_metadata"`
}

// LoadFile reads options from a TOML file on top of DefaultOptions.
// The result is not validated.
//
//	dashboard_url = "https://monitor.example.com"
//	api_key = "sm_live_..."
//	service_name = "orders"
//	heartbeat_interval = "15s"
//
//	[deployment_metadata]
//	team = "payments"
func LoadFile(path string) (Options, error) {
	var raw fileOptions
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Options{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return raw.options()
}

// Parse reads options from TOML text on top of DefaultOptions.
func Parse(data string) (Options, error) {
	var raw fileOptions
	if _, err := toml.Decode(data, &raw); err != nil {
		return Options{}, fmt.Errorf("decoding options: %w", err)
	}
	return raw.options()
}

func (f *fileOptions) options() (Options, error) {
	o := DefaultOptions()
	o.DashboardURL = f.DashboardURL
	o.APIKey = f.APIKey
	o.ServiceName = f.ServiceName
	if f.Environment != "" {
		o.Environment = f.Environment
	}
	o.Version = f.Version
	o.Hostname = f.Hostname
	o.Port = f.Port
	o.URL = f.URL
	o.InstanceID = f.InstanceID
	if f.HeartbeatInterval != "" {
		d, err := time.ParseDuration(f.HeartbeatInterval)
		if err != nil {
			return Options{}, fmt.Errorf("heartbeat_interval: %w", err)
		}
		o.HeartbeatInterval = d
	}
	if f.RetryAttempts != nil {
		o.RetryAttempts = *f.RetryAttempts
	}
	if f.EnableMetrics != nil {
		o.EnableMetrics = *f.EnableMetrics
	}
	if f.EnableLogging != nil {
		o.EnableLogging = *f.EnableLogging
	}
	o.BuildID = f.BuildID
	o.ReleaseID = f.ReleaseID
	o.BuildDate = f.BuildDate
	o.DeploymentDate = f.DeploymentDate
	o.CommitHash = f.CommitHash
	o.Branch = f.Branch
	o.BuildConfiguration = f.BuildConfiguration
	if len(f.DeploymentMetadata) > 0 {
		bag, err := metadata.FromMap(f.DeploymentMetadata)
		if err != nil {
			return Options{}, fmt.Errorf("deployment_metadata: %w", err)
		}
		o.DeploymentMetadata = bag
	}
	return o, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvDashboardURL = "SERVICEMONITOR_DASHBOARD_URL"
	EnvAPIKey       = "SERVICEMONITOR_API_KEY"
	EnvServiceName  = "SERVICEMONITOR_SERVICE_NAME"
	EnvEnvironment  = "SERVICEMONITOR_ENVIRONMENT"
	EnvPort         = "SERVICEMONITOR_PORT"

	// CI provenance, as exported by Azure Pipelines.
	EnvBuildID            = "BUILD_BUILDID"
	EnvCommitHash         = "BUILD_SOURCEVERSION"
	EnvBranch             = "BUILD_SOURCEBRANCHNAME"
	EnvReleaseID          = "RELEASE_RELEASEID"
	EnvBuildConfiguration = "BUILDCONFIGURATION"
)

// ApplyEnv overlays non-empty environment variables onto o.
// lookup is usually os.LookupEnv.
func ApplyEnv(o *Options, lookup func(string) (string, bool)) error {
	strVars := map[string]*string{
		EnvDashboardURL:       &o.DashboardURL,
		EnvAPIKey:             &o.APIKey,
		EnvServiceName:        &o.ServiceName,
		EnvEnvironment:        &o.Environment,
		EnvBuildID:            &o.BuildID,
		EnvCommitHash:         &o.CommitHash,
		EnvBranch:             &o.Branch,
		EnvReleaseID:          &o.ReleaseID,
		EnvBuildConfiguration: &o.BuildConfiguration,
	}
	for envVar, field := range strVars {
		if v, ok := lookup(envVar); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvPort, v, err)
		}
		o.Port = port
	}
	return nil
}
