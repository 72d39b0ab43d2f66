// Package registrar announces a service instance to the dashboard.
//
// A Registrar sends exactly one registration request per Register call and
// never retries on its own: a second attempt is a new logical event and
// belongs to the caller. On success the dashboard-assigned instance id is
// stored in the shared identity cell, which is written at most once.
package registrar

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/servicemonitor/config"
	"github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/identity"
	"github.com/vinayprograms/servicemonitor/logging"
	"github.com/vinayprograms/servicemonitor/metadata"
	"github.com/vinayprograms/servicemonitor/telemetry"
)

// RegisterPath is the dashboard endpoint for registration.
const RegisterPath = "/api/services/register"

// SDKVersion is reported as sdk_version.
const SDKVersion = "1.0.0"

// Request is the registration body.
type Request struct {
	ServiceName string       `json:"serviceName"`
	Environment string       `json:"environment"`
	Version     string       `json:"version,omitempty"`
	InstanceID  string       `json:"instanceId,omitempty"` // suggestion only
	Hostname    string       `json:"hostname"`
	Port        *int         `json:"port,omitempty"`
	URL         string       `json:"url,omitempty"`
	ProcessID   int          `json:"processId"`
	Metadata    metadata.Bag `json:"metadata"`
}

// Response is the dashboard's answer. InstanceID is authoritative.
type Response struct {
	ServiceID   string    `json:"serviceId"`
	InstanceID  uuid.UUID `json:"instanceId"`
	ServiceName string    `json:"serviceName"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
}

// Poster sends one JSON request. *transport.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, path string, body, out interface{}) error
}

// AddressProber resolves the host's listening address. *probe.Probe
// implements it.
type AddressProber interface {
	DetectPort(ctx context.Context) (int, bool)
	DetectURL(ctx context.Context) (string, bool)
}

// Registrar performs the registration handshake.
type Registrar struct {
	opts    config.Options
	client  Poster
	cell    *identity.Cell
	prober  AddressProber
	log     *logging.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics

	now      func() time.Time
	hostname func() (string, error)
	pid      func() int
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithProber sets the address prober used when no port or URL is configured.
func WithProber(p AddressProber) Option {
	return func(r *Registrar) { r.prober = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registrar) { r.log = l }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Registrar) { r.tracer = t }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registrar) { r.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registrar) { r.now = now }
}

// WithHostname overrides os.Hostname.
func WithHostname(fn func() (string, error)) Option {
	return func(r *Registrar) { r.hostname = fn }
}

// WithProcessID overrides os.Getpid.
func WithProcessID(fn func() int) Option {
	return func(r *Registrar) { r.pid = fn }
}

// New creates a Registrar. opts must already be validated.
// A nil cell gets a fresh one.
func New(opts config.Options, client Poster, cell *identity.Cell, options ...Option) *Registrar {
	if cell == nil {
		cell = identity.NewCell()
	}
	r := &Registrar{
		opts:     opts,
		client:   client,
		cell:     cell,
		log:      logging.Nop(),
		tracer:   telemetry.GetTracer(),
		now:      time.Now,
		hostname: os.Hostname,
		pid:      os.Getpid,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Identity returns the cell the registrar writes to.
func (r *Registrar) Identity() *identity.Cell {
	return r.cell
}

// InstanceID returns the assigned id, if registration has succeeded.
func (r *Registrar) InstanceID() (uuid.UUID, bool) {
	return r.cell.Get()
}

// Register sends one registration request and stores the assigned
// instance id. If an id is already stored, it is kept and returned.
func (r *Registrar) Register(ctx context.Context) (id uuid.UUID, err error) {
	start := r.now()
	ctx, span := r.tracer.StartRegisterSpan(ctx)
	defer func() {
		spanOpts := telemetry.RegisterSpanOptions{
			ServiceName: r.opts.ServiceName,
			Environment: r.opts.EffectiveEnvironment(),
		}
		if err == nil {
			spanOpts.InstanceID = id.String()
		}
		r.tracer.EndRegisterSpan(span, spanOpts, err)
		r.metrics.RegistrationDone(err)
	}()

	req := r.BuildRequest(ctx)

	port := "auto-detect"
	if req.Port != nil {
		port = strconv.Itoa(*req.Port)
	}
	r.log.RegistrationStart(req.ServiceName, req.Environment, r.logicalID(req), port, req.ProcessID)

	var resp Response
	if err := r.client.PostJSON(ctx, RegisterPath, req, &resp); err != nil {
		r.log.RegistrationFailed(req.ServiceName, err)
		return uuid.Nil, errors.Wrap(err, "registering service")
	}
	if resp.InstanceID == uuid.Nil {
		err := errors.ProtocolFailure("registration response has no instance id", errors.WithPath(RegisterPath))
		r.log.RegistrationFailed(req.ServiceName, err)
		return uuid.Nil, err
	}

	if !r.cell.Set(resp.InstanceID) {
		stored, _ := r.cell.Get()
		r.log.Warn("instance already registered, keeping first id", map[string]interface{}{
			"instance_id": stored.String(),
			"ignored_id":  resp.InstanceID.String(),
		})
		return stored, nil
	}

	r.log.RegistrationComplete(req.ServiceName, resp.InstanceID.String(), r.now().Sub(start))
	return resp.InstanceID, nil
}

// BuildRequest resolves hostname, process id and address, and assembles
// the registration body. Probing honours ctx.
func (r *Registrar) BuildRequest(ctx context.Context) *Request {
	req := &Request{
		ServiceName: r.opts.ServiceName,
		Environment: r.opts.EffectiveEnvironment(),
		Version:     r.opts.Version,
		InstanceID:  r.opts.InstanceID,
		Hostname:    r.resolveHostname(),
		ProcessID:   r.pid(),
		URL:         r.opts.URL,
	}

	if r.opts.Port > 0 {
		port := r.opts.Port
		req.Port = &port
	} else if r.prober != nil {
		if port, ok := r.prober.DetectPort(ctx); ok {
			req.Port = &port
		}
	}
	if req.URL == "" && r.prober != nil {
		if u, ok := r.prober.DetectURL(ctx); ok {
			req.URL = u
		}
	}

	req.Metadata = r.buildMetadata(req.ProcessID)
	return req
}

func (r *Registrar) buildMetadata(pid int) metadata.Bag {
	md := metadata.New()
	md.Set(metadata.KeySDKVersion, metadata.String(SDKVersion))
	md.Set(metadata.KeyFramework, metadata.String("go "+runtime.Version()))
	md.Set(metadata.KeyOS, metadata.String(runtime.GOOS+"/"+runtime.GOARCH))
	md.Set(metadata.KeyProcessID, metadata.Int(int64(pid)))
	md.Set(metadata.KeyRegisteredAt, metadata.Time(r.now()))

	o := r.opts
	md.SetString(metadata.KeyBuildID, o.BuildID)
	md.SetString(metadata.KeyReleaseID, o.ReleaseID)
	md.SetTime(metadata.KeyBuildDate, o.BuildDate)
	md.SetTime(metadata.KeyDeploymentDate, o.DeploymentDate)
	md.SetString(metadata.KeyCommitHash, o.CommitHash)
	md.SetString(metadata.KeyBranch, o.Branch)
	md.SetString(metadata.KeyBuildConfiguration, o.BuildConfiguration)

	md.Merge(metadata.CustomPrefix, o.DeploymentMetadata)
	return md
}

func (r *Registrar) resolveHostname() string {
	if r.opts.Hostname != "" {
		return r.opts.Hostname
	}
	h, err := r.hostname()
	if err != nil || h == "" {
		r.log.Warn("hostname unavailable", map[string]interface{}{"error": err})
		return "localhost"
	}
	return h
}

// logicalID is the human-readable name used in logs before the dashboard
// has assigned an id.
func (r *Registrar) logicalID(req *Request) string {
	if req.InstanceID != "" {
		return req.InstanceID
	}
	if req.Port != nil {
		return fmt.Sprintf("%s:%d", req.Hostname, *req.Port)
	}
	return fmt.Sprintf("%s-pid%d", req.Hostname, req.ProcessID)
}
