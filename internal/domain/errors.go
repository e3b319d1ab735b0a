package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrMalformedEnvelope is matched by every EnvelopeError.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("decode error")

	// ErrConnectionFailed is returned when the websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrSubscriptionClosed is returned when a closed subscription is asked to start again.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// EnvelopeError reports a notification whose required fields are missing or of the wrong shape.
type EnvelopeError struct {
	Field string // JSON path of the offending field (e.g. "params.result.value.data")
	Err   error
}

func (e *EnvelopeError) Error() string {
	if e.Err == nil {
		return "malformed envelope [" + e.Field + "]"
	}
	return "malformed envelope [" + e.Field + "]: " + e.Err.Error()
}

func (e *EnvelopeError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// NewEnvelopeError creates an EnvelopeError for the given field.
func NewEnvelopeError(field string, err error) *EnvelopeError {
	return &EnvelopeError{Field: field, Err: err}
}

// DecodeError reports a payload that cannot be interpreted as an event queue.
// Need and Got are byte counts; both are zero when the failure is not a length check.
type DecodeError struct {
	Need   int
	Got    int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode error: " + e.Reason
	if e.Need > 0 {
		msg += fmt.Sprintf(" (need %d bytes, got %d)", e.Need, e.Got)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RPCError is a JSON-RPC error object returned by the node instead of a result.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
