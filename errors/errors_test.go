package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 1. Error creation with different codes/categories
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		code          ErrorCode
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryPermanent, false},
		{"transport", ErrCodeTransport, CategoryTransient, true},
		{"protocol", ErrCodeProtocol, CategoryPermanent, false},
		{"canceled", ErrCodeCanceled, CategoryPermanent, false},
		{"timeout", ErrCodeTimeout, CategoryTransient, true},
		{"internal", ErrCodeInternal, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom")
			assert.Equal(t, tt.code, err.Code())
			assert.Equal(t, tt.wantCategory, err.Category())
			assert.Equal(t, tt.wantRetryable, err.Retryable())
			assert.False(t, err.Timestamp().IsZero())
		})
	}
}

func TestConfigInvalid_RecordsField(t *testing.T) {
	err := ConfigInvalid("ApiKey", "ApiKey is required")
	assert.Equal(t, "ApiKey", err.Metadata()["field"])
	assert.True(t, Is(err, ErrCodeConfigInvalid))
}

func TestTransportFailure_Metadata(t *testing.T) {
	err := TransportFailure("heartbeat rejected", WithStatusCode(503), WithPath("/api/services/heartbeat"))
	md := GetMetadata(err)
	assert.Equal(t, "503", md["status_code"])
	assert.Equal(t, "/api/services/heartbeat", md["path"])
	assert.True(t, IsRetryable(err), "transport failures should be retryable")
}

func TestWithRetryableOverride(t *testing.T) {
	err := TransportFailure("x", WithRetryable(false))
	assert.False(t, err.Retryable(), "explicit override should win over category")
}

func TestMetadataIsCopy(t *testing.T) {
	err := New(ErrCodeInternal, "x", WithMetadata("k", "v"))
	md := err.Metadata()
	md["k"] = "changed"
	assert.Equal(t, "v", err.Metadata()["k"])
}

// ============================================================================
// 2. Wrapping and chain inspection
// ============================================================================

func TestWrap_PreservesCode(t *testing.T) {
	inner := ProtocolFailure("empty body")
	wrapped := Wrap(inner, "register")

	assert.Equal(t, ErrCodeProtocol, wrapped.Code())
	assert.ErrorIs(t, wrapped, inner)
	assert.EqualError(t, wrapped, "register: empty body")
}

func TestWrap_ContextErrors(t *testing.T) {
	assert.Equal(t, ErrCodeCanceled, Wrap(context.Canceled, "x").Code())
	assert.Equal(t, ErrCodeTimeout, Wrap(context.DeadlineExceeded, "x").Code())
	assert.Equal(t, ErrCodeInternal, Wrap(fmt.Errorf("plain"), "x").Code())
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
	assert.Nil(t, WrapWithCode(nil, ErrCodeTransport, "x"))
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(fmt.Errorf("send: %w", context.Canceled)))
	assert.True(t, IsCanceled(New(ErrCodeTimeout, "x")), "TIMEOUT should count as canceled")
	assert.False(t, IsCanceled(TransportFailure("x")))
}

func TestNonTaxonomyErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.False(t, IsRetryable(plain))
	assert.Empty(t, Code(plain))
	assert.Nil(t, AsMonitorError(plain))
	assert.Nil(t, GetMetadata(plain))
}

// ============================================================================
// 3. Panic recovery
// ============================================================================

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("kaboom")
	require.NotNil(t, err)
	assert.Equal(t, ErrCodePanic, err.Code())
	assert.EqualError(t, err, "kaboom")
	assert.Equal(t, "string", err.Metadata()["panic_value"])
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "protocol failure", ErrCodeProtocol.Description())
	assert.Equal(t, "unknown error", ErrorCode("NOPE").Description())
}
