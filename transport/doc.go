// Package transport carries the agent's two dashboard calls over HTTP.
//
// One Client is created per agent and shared by registration and the
// heartbeat loop, so connections are pooled rather than opened per send.
// Every request is a JSON POST authenticated with the X-API-Key header.
//
// # Failure mapping
//
// Failures are reported with the agent's error taxonomy:
//
//   - network errors and non-2xx statuses are TRANSPORT_FAILURE (retryable)
//   - a 2xx response whose body is empty or not the expected JSON is
//     PROTOCOL_FAILURE
//   - a canceled context is CANCELED, an expired deadline TIMEOUT
//
// A single call never retries. Retry policy belongs to the caller.
package transport
