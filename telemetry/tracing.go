// Package telemetry instruments the agent's own operations: OpenTelemetry
// spans around registration and heartbeat sends, and Prometheus counters the
// host can expose next to its own metrics.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used by the agent.
const TracerName = "github.com/vinayprograms/servicemonitor"

// Tracer wraps OpenTelemetry tracing with agent-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Registration Spans ---

// RegisterSpanOptions describes a finished registration.
type RegisterSpanOptions struct {
	ServiceName string
	Environment string
	InstanceID  string
	Port        int
}

// StartRegisterSpan starts a client span for the registration handshake.
func (t *Tracer) StartRegisterSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "servicemonitor.register", trace.WithSpanKind(trace.SpanKindClient))
}

// EndRegisterSpan ends a registration span with attributes.
func (t *Tracer) EndRegisterSpan(span trace.Span, opts RegisterSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("servicemonitor.service", opts.ServiceName),
		attribute.String("servicemonitor.environment", opts.Environment),
	}
	if opts.InstanceID != "" {
		attrs = append(attrs, attribute.String("servicemonitor.instance_id", opts.InstanceID))
	}
	if opts.Port > 0 {
		attrs = append(attrs, attribute.Int("servicemonitor.port", opts.Port))
	}
	span.SetAttributes(attrs...)
	EndSpan(span, err)
}

// --- Heartbeat Spans ---

// HeartbeatSpanOptions describes a finished heartbeat cycle.
type HeartbeatSpanOptions struct {
	InstanceID string
	Attempts   int
	Metrics    bool
}

// StartHeartbeatSpan starts a client span covering one heartbeat cycle,
// retries included.
func (t *Tracer) StartHeartbeatSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "servicemonitor.heartbeat", trace.WithSpanKind(trace.SpanKindClient))
}

// EndHeartbeatSpan ends a heartbeat span with attributes.
func (t *Tracer) EndHeartbeatSpan(span trace.Span, opts HeartbeatSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("servicemonitor.instance_id", opts.InstanceID),
		attribute.Int("servicemonitor.attempts", opts.Attempts),
		attribute.Bool("servicemonitor.metrics", opts.Metrics),
	)
	EndSpan(span, err)
}

// EndSpan records err, if any, on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectHeaders writes the trace context of ctx into outgoing HTTP headers.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// ExtractHeaders reads trace context from incoming HTTP headers.
func ExtractHeaders(ctx context.Context, h http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}
