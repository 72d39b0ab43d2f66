// Package logging provides the agent's leveled, structured log channel.
//
// Every method is gated by a single enabled flag taken from the agent
// options and never panics, so a broken or disabled logger cannot affect
// the monitored service.
package logging

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes structured entries through zap.
type Logger struct {
	base      *zap.Logger // without the component field
	z         *zap.Logger
	enabled   bool
	component string
}

// New creates a Logger backed by a production zap logger.
// If zap cannot be built, the logger silently degrades to a no-op.
func New(enabled bool) *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{base: z, z: z, enabled: enabled}
}

// NewFromZap wraps a host-provided zap logger.
func NewFromZap(z *zap.Logger, enabled bool) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{base: z, z: z, enabled: enabled}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	z := zap.NewNop()
	return &Logger{base: z, z: z}
}

// WithComponent returns a new logger tagged with the given component name,
// replacing any previous one.
func (l *Logger) WithComponent(component string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{
		base:      l.base,
		z:         l.base.With(zap.String("component", component)),
		enabled:   l.enabled,
		component: component,
	}
}

// Enabled reports whether entries are written at all.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Component returns the component name, if any.
func (l *Logger) Component() string {
	if l == nil {
		return ""
	}
	return l.component
}

// Sync flushes buffered entries. Errors are ignored.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.z.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// zapFields converts a field map into zap fields in key order.
func zapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.String(k, err.Error()))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if !l.Enabled() {
		return
	}
	defer func() { _ = recover() }()

	var zf []zap.Field
	if len(fields) > 0 && fields[0] != nil {
		zf = zapFields(fields[0])
	}

	switch level {
	case LevelDebug:
		l.z.Debug(msg, zf...)
	case LevelInfo:
		l.z.Info(msg, zf...)
	case LevelWarn:
		l.z.Warn(msg, zf...)
	default:
		l.z.Error(msg, zf...)
	}
}

// --- Agent event logging ---

// RegistrationStart logs an outgoing registration.
func (l *Logger) RegistrationStart(service, environment, logicalID, port string, pid int) {
	l.Info("registration_start", map[string]interface{}{
		"service":     service,
		"environment": environment,
		"instance":    logicalID,
		"port":        port,
		"process_id":  pid,
	})
}

// RegistrationComplete logs the instance id assigned by the dashboard.
func (l *Logger) RegistrationComplete(service, instanceID string, duration time.Duration) {
	l.Info("registration_complete", map[string]interface{}{
		"service":     service,
		"instance_id": instanceID,
		"duration":    duration.String(),
	})
}

// RegistrationFailed logs a failed registration. The host keeps running.
func (l *Logger) RegistrationFailed(service string, err error) {
	l.Error("registration_failed", map[string]interface{}{
		"service": service,
		"error":   err,
		"hint":    "check DashboardURL and ApiKey; monitoring is inactive",
	})
}

// HeartbeatLoopStarted logs the transition into the running state.
func (l *Logger) HeartbeatLoopStarted(instanceID string, interval time.Duration) {
	l.Info("heartbeat_started", map[string]interface{}{
		"instance_id": instanceID,
		"interval":    interval.String(),
	})
}

// HeartbeatLoopStopped logs the terminal state and why it was reached.
func (l *Logger) HeartbeatLoopStopped(reason string) {
	l.Info("heartbeat_stopped", map[string]interface{}{
		"reason": reason,
	})
}

// HeartbeatSent logs a delivered heartbeat.
func (l *Logger) HeartbeatSent(instanceID string) {
	l.Debug("heartbeat_sent", map[string]interface{}{
		"instance_id": instanceID,
	})
}

// HeartbeatRetry logs a failed attempt that will be retried after delay.
func (l *Logger) HeartbeatRetry(attempt, maxAttempts int, delay time.Duration, err error) {
	l.Warn("heartbeat_retry", map[string]interface{}{
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"delay":        delay.String(),
		"error":        err,
	})
}

// HeartbeatAbandoned logs a cycle given up after exhausting retries.
func (l *Logger) HeartbeatAbandoned(attempts int, err error) {
	l.Error("heartbeat_abandoned", map[string]interface{}{
		"attempts": attempts,
		"error":    err,
	})
}

// MetricsUnavailable logs a failed resource sample.
func (l *Logger) MetricsUnavailable(err error) {
	l.Warn("metrics_unavailable", map[string]interface{}{
		"error": err,
	})
}

// AddressDetected logs the address observed after host startup.
func (l *Logger) AddressDetected(port int, url string) {
	l.Info("address_detected", map[string]interface{}{
		"port": port,
		"url":  url,
	})
}
