package llm

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int    // 0 if the failure was not HTTP-level
	Body        []byte // Raw vendor response body, if any
	Attempts    int    // Number of attempts made before giving up
	Endpoint    string // Endpoint key the failure belongs to
	Limit       StreamLimit
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeCircuitOpen     ErrorType = "circuit_open"
	ErrorTypeAuthentication  ErrorType = "authentication"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeAPI             ErrorType = "api"
	ErrorTypeJSONDecode      ErrorType = "json_decode"
	ErrorTypeStream          ErrorType = "stream"
	ErrorTypeStreamLimit     ErrorType = "stream_limit"
	ErrorTypeProvider        ErrorType = "provider"
)

// StreamLimit names the accumulator ceiling that was exceeded.
type StreamLimit string

const (
	StreamLimitContent       StreamLimit = "content"
	StreamLimitThinking      StreamLimit = "thinking"
	StreamLimitToolCalls     StreamLimit = "tool_calls"
	StreamLimitToolArguments StreamLimit = "tool_arguments"
)

// ErrUnsupported is returned when a provider lacks a capability (embeddings, images).
var ErrUnsupported = errors.New("capability not supported by provider")

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

func errorType(err error) (ErrorType, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type, true
	}
	return "", false
}

func isType(err error, types ...ErrorType) bool {
	t, ok := errorType(err)
	if !ok {
		return false
	}
	for _, candidate := range types {
		if t == candidate {
			return true
		}
	}
	return false
}

// IsCircuitOpenError checks if a call was rejected by an open circuit.
func IsCircuitOpenError(err error) bool {
	return isType(err, ErrorTypeCircuitOpen)
}

// IsAuthenticationError checks if an error is an authentication error (401/403).
func IsAuthenticationError(err error) bool {
	return isType(err, ErrorTypeAuthentication)
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	return isType(err, ErrorTypeRequestTooLarge)
}

// IsAPIError checks if an error is a generic API error: a client error other
// than authentication or rate limiting, or retries exhausted on server errors.
func IsAPIError(err error) bool {
	return isType(err, ErrorTypeAPI, ErrorTypeInvalidRequest, ErrorTypeRequestTooLarge)
}

// IsJSONDecodeError checks if a nominally successful response could not be decoded.
func IsJSONDecodeError(err error) bool {
	return isType(err, ErrorTypeJSONDecode)
}

// IsStreamError checks if a stream failed to open or broke mid-flight.
func IsStreamError(err error) bool {
	return isType(err, ErrorTypeStream)
}

// IsStreamLimitError checks if a stream exceeded an accumulator ceiling.
func IsStreamLimitError(err error) bool {
	return isType(err, ErrorTypeStreamLimit)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.StatusCode
	}
	return 0
}

// NewCircuitOpenError creates the error returned when a circuit rejects a call.
func NewCircuitOpenError(endpoint string, retryIn time.Duration) *Error {
	return &Error{
		Type:       ErrorTypeCircuitOpen,
		Message:    fmt.Sprintf("circuit open for %s", endpoint),
		Retryable:  true,
		RetryAfter: &retryIn,
		Endpoint:   endpoint,
	}
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(statusCode int, message string, body []byte) *Error {
	return &Error{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  429,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   false,
		StatusCode:  413,
		ProviderErr: providerErr,
	}
}

// NewAPIError creates a generic API error for a client error response.
func NewAPIError(statusCode int, message string, body []byte) *Error {
	return &Error{
		Type:       ErrorTypeAPI,
		Message:    message,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NewRetriesExhaustedError wraps the last transport failure after all attempts failed.
func NewRetriesExhaustedError(endpoint string, attempts int, last error) *Error {
	e := &Error{
		Type:        ErrorTypeAPI,
		Message:     fmt.Sprintf("request to %s failed after %d attempts", endpoint, attempts),
		Retryable:   true,
		Attempts:    attempts,
		Endpoint:    endpoint,
		ProviderErr: last,
	}
	var cause *Error
	if errors.As(last, &cause) {
		e.StatusCode = cause.StatusCode
		e.Body = cause.Body
	}
	return e
}

// NewJSONDecodeError creates the error for a 2xx response whose body is not valid JSON.
func NewJSONDecodeError(body []byte, cause error) *Error {
	return &Error{
		Type:        ErrorTypeJSONDecode,
		Message:     "failed to decode response body",
		Body:        body,
		ProviderErr: cause,
	}
}

// NewStreamError creates a new stream error.
func NewStreamError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeStream,
		Message:     message,
		ProviderErr: cause,
	}
}

// NewStreamLimitError creates the error for an exceeded accumulator ceiling.
func NewStreamLimitError(limit StreamLimit, max, attempted int) *Error {
	return &Error{
		Type:    ErrorTypeStreamLimit,
		Message: fmt.Sprintf("stream %s limit exceeded: %d > %d", limit, attempted, max),
		Limit:   limit,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}
