package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: connection refused, 503 from the dashboard.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid options, malformed registration response.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"    // Options rejected at composition time
	ErrCodeTransport     ErrorCode = "TRANSPORT_FAILURE" // Network error or non-2xx status
	ErrCodeProtocol      ErrorCode = "PROTOCOL_FAILURE"  // Missing or malformed response body
	ErrCodeCanceled      ErrorCode = "CANCELED"          // Caller canceled the operation
	ErrCodeTimeout       ErrorCode = "TIMEOUT"           // Caller deadline exceeded
	ErrCodeInternal      ErrorCode = "INTERNAL"          // Unexpected internal error
	ErrCodePanic         ErrorCode = "PANIC"             // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTransport, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeConfigInvalid, ErrCodeProtocol, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeConfigInvalid: "invalid configuration",
	ErrCodeTransport:     "transport failure",
	ErrCodeProtocol:      "protocol failure",
	ErrCodeCanceled:      "operation canceled",
	ErrCodeTimeout:       "operation timed out",
	ErrCodeInternal:      "internal error",
	ErrCodePanic:         "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
