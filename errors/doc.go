// Package errors provides the structured error taxonomy used across the
// service monitor agent. Every failure the agent can surface carries a code,
// a category and a retryability flag, so callers can decide between retrying,
// logging and giving up without inspecting error strings.
//
// # Error Codes
//
//   - CONFIG_INVALID: options failed validation; the agent never starts
//   - TRANSPORT_FAILURE: the request did not reach the dashboard or got a non-2xx reply
//   - PROTOCOL_FAILURE: the dashboard replied, but the body was missing or malformed
//   - CANCELED / TIMEOUT: the caller's context ended the operation
//   - INTERNAL: anything unexpected, including recovered panics
//
// # Categories
//
// Transport failures are transient and therefore retryable; configuration and
// protocol failures are permanent.
//
// # Usage
//
//	err := errors.TransportFailure("register", errors.WithCause(netErr))
//	if errors.IsRetryable(err) {
//	    // retry with backoff
//	}
//
//	if errors.Is(err, errors.ErrCodeProtocol) {
//	    // the dashboard misbehaved; do not retry
//	}
package errors
