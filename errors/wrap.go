package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, its code and retryability are preserved.
// Context errors map to CANCELED / TIMEOUT; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var monErr *Error
	if errors.As(err, &monErr) {
		wrapped := &Error{
			code:      monErr.code,
			category:  monErr.category,
			message:   message,
			cause:     err,
			metadata:  monErr.Metadata(),
			retryable: monErr.retryable,
			timestamp: monErr.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsMonitorError extracts a MonitorError from an error chain.
// Returns nil if none is found.
func AsMonitorError(err error) MonitorError {
	var monErr *Error
	if errors.As(err, &monErr) {
		return monErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var monErr *Error
	if errors.As(err, &monErr) {
		return monErr.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside the taxonomy are not retryable.
func IsRetryable(err error) bool {
	var monErr *Error
	if errors.As(err, &monErr) {
		return monErr.Retryable()
	}
	return false
}

// IsCanceled reports whether err stems from context cancellation or deadline.
func IsCanceled(err error) bool {
	if Is(err, ErrCodeCanceled) || Is(err, ErrCodeTimeout) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var monErr *Error
	if errors.As(err, &monErr) {
		return monErr.code
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err is not an *Error.
func GetMetadata(err error) map[string]string {
	var monErr *Error
	if errors.As(err, &monErr) {
		return monErr.Metadata()
	}
	return nil
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
