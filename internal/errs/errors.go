// Package errs provides a structured error type shared by the crawl
// engine, the index service, and the API layer.
package errs

import (
	"fmt"
	"runtime"
	"time"
)

// Type categorizes an error for retry and HTTP-mapping purposes.
type Type string

const (
	TypeTransient  Type = "transient"
	TypePermanent  Type = "permanent"
	TypeUser       Type = "user"
	TypeSystem     Type = "system"
	TypeNetwork    Type = "network"
	TypeDatabase   Type = "database"
	TypeValidation Type = "validation"
	TypeRateLimit  Type = "rate_limit"
	TypeNotFound   Type = "not_found"
	TypeConflict   Type = "conflict"
)

// Error is a structured error carrying enough context for logging,
// retry decisions, and API responses.
type Error struct {
	Type       Type
	Message    string
	Cause      error
	Code       string
	Context    map[string]interface{}
	Timestamp  time.Time
	File       string
	Line       int
	Retryable  bool
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// New creates a structured error of the given type.
func New(t Type, message string) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		Type:       t,
		Message:    message,
		Timestamp:  time.Now(),
		File:       file,
		Line:       line,
		Retryable:  isRetryableType(t),
		HTTPStatus: defaultHTTPStatus(t),
	}
}

// Wrap attaches a type and message to an existing error, preserving the
// retryability and HTTP status of an already-structured cause.
func Wrap(err error, t Type, message string) *Error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)

	if structured, ok := err.(*Error); ok {
		return &Error{
			Type:       t,
			Message:    message,
			Cause:      structured,
			Timestamp:  time.Now(),
			File:       file,
			Line:       line,
			Retryable:  structured.Retryable,
			HTTPStatus: structured.HTTPStatus,
			Context:    structured.Context,
		}
	}

	return &Error{
		Type:       t,
		Message:    message,
		Cause:      err,
		Timestamp:  time.Now(),
		File:       file,
		Line:       line,
		Retryable:  isRetryableType(t),
		HTTPStatus: defaultHTTPStatus(t),
	}
}

func isRetryableType(t Type) bool {
	return t == TypeTransient || t == TypeNetwork || t == TypeRateLimit
}

func defaultHTTPStatus(t Type) int {
	switch t {
	case TypeUser, TypeValidation:
		return 400
	case TypeNotFound:
		return 404
	case TypeConflict:
		return 409
	case TypeRateLimit:
		return 429
	case TypeDatabase:
		return 503
	case TypeNetwork:
		return 502
	default:
		return 500
	}
}

// PartialFailure is implemented by an error reporting that some items of
// a batch operation failed while the call itself succeeded (e.g. a few
// documents in a bulk commit). Callers should count FailedIDs and
// continue rather than abort the batch.
type PartialFailure interface {
	error
	FailedIDs() []string
}

// IsRetryable reports whether err carries a retryable structured error.
func IsRetryable(err error) bool {
	if structured, ok := err.(*Error); ok {
		return structured.Retryable
	}
	return false
}

// GetType extracts the Type of a structured error, defaulting to
// TypeSystem for plain errors.
func GetType(err error) Type {
	if structured, ok := err.(*Error); ok {
		return structured.Type
	}
	return TypeSystem
}

func NewTransient(message string) *Error  { return New(TypeTransient, message) }
func NewPermanent(message string) *Error  { return New(TypePermanent, message) }
func NewValidation(message string) *Error { return New(TypeValidation, message) }
func NewUser(message string) *Error       { return New(TypeUser, message) }
func NewNotFound(message string) *Error   { return New(TypeNotFound, message) }
func NewConflict(message string) *Error   { return New(TypeConflict, message) }

func NewDatabase(message string, err error) *Error {
	if err == nil {
		return New(TypeDatabase, message)
	}
	return Wrap(err, TypeDatabase, message)
}

func NewNetwork(message string, err error) *Error {
	if err == nil {
		return New(TypeNetwork, message)
	}
	return Wrap(err, TypeNetwork, message)
}

func NewSystem(message string, err error) *Error {
	if err == nil {
		return New(TypeSystem, message)
	}
	return Wrap(err, TypeSystem, message)
}

func NewRateLimit(message string, retryAfter time.Duration) *Error {
	e := New(TypeRateLimit, message)
	e.WithContext("retry_after", retryAfter)
	return e
}
