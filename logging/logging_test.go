package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(enabled bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewFromZap(zap.New(core), enabled), logs
}

func TestLogger_Levels(t *testing.T) {
	logger, logs := observed(true)

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogger_DisabledWritesNothing(t *testing.T) {
	logger, logs := observed(false)

	logger.Info("hidden")
	logger.RegistrationFailed("svc", errors.New("down"))
	logger.HeartbeatRetry(1, 3, 2*time.Second, errors.New("x"))

	assert.Equal(t, 0, logs.Len())
	assert.False(t, logger.Enabled())
}

func TestLogger_WithComponent(t *testing.T) {
	logger, logs := observed(true)

	logger.WithComponent("registrar").Info("hello")

	entries := logs.FilterField(zap.String("component", "registrar")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
}

func TestLogger_WithComponentReplaces(t *testing.T) {
	logger, logs := observed(true)

	logger.WithComponent("agent").WithComponent("heartbeat").Info("tick")

	entry := logs.All()[0]
	n := 0
	for _, f := range entry.Context {
		if f.Key == "component" {
			n++
			assert.Equal(t, "heartbeat", f.String)
		}
	}
	assert.Equal(t, 1, n)
}

func TestLogger_Fields(t *testing.T) {
	logger, logs := observed(true)

	logger.Info("call", map[string]interface{}{
		"port":  8080,
		"error": errors.New("refused"),
	})

	entry := logs.All()[0]
	ctx := entry.ContextMap()
	assert.EqualValues(t, 8080, ctx["port"])
	assert.Equal(t, "refused", ctx["error"])
}

func TestLogger_NilIsSafe(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Info("x")
		logger.WithComponent("c").Warn("y")
		logger.Sync()
	})
}

func TestLogger_EventHelpers(t *testing.T) {
	logger, logs := observed(true)

	logger.RegistrationStart("orders", "production", "host:8080", "8080", 42)
	logger.RegistrationComplete("orders", "abc", time.Second)
	logger.HeartbeatAbandoned(4, errors.New("timeout"))
	logger.AddressDetected(8080, "http://[::]:8080")

	assert.Equal(t, 1, logs.FilterMessage("registration_start").Len())
	assert.Equal(t, 1, logs.FilterMessage("registration_complete").Len())
	abandoned := logs.FilterMessage("heartbeat_abandoned").All()
	require.Len(t, abandoned, 1)
	assert.Equal(t, zapcore.ErrorLevel, abandoned[0].Level)
	assert.EqualValues(t, 4, abandoned[0].ContextMap()["attempts"])
	assert.Equal(t, 1, logs.FilterMessage("address_detected").Len())
}
