// Package apperror defines the error kinds shared by the pool, the bridge
// and the configuration loader.
//
// Callers test for a kind with errors.Is against the sentinels below. The
// concrete *AppError also keeps the underlying cause, so the log line can
// show what the driver actually said while the caller only branches on kind.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal at startup: the pool cannot be built.
	ErrConfiguration = errors.New("configuration error")
	// ErrConnection is a transport failure talking to the database.
	ErrConnection = errors.New("connection error")
	// ErrPoolExhausted means no pooled connection became free in time.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrClosed is returned by every operation after the pool was closed.
	ErrClosed = errors.New("pool closed")
	// ErrQuery is a caller programming error: malformed SQL or a
	// parameter count that does not match the placeholders.
	ErrQuery = errors.New("query error")
	ErrValidation = errors.New("validation error")
)

type AppError struct {
	Err     error  // kind sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: lower-level error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches the
// sentinel and errors.As can still reach a driver error underneath.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Configuration reports a missing or malformed setting.
func Configuration(field, message string, cause error) *AppError {
	return &AppError{
		Err:     ErrConfiguration,
		Message: message,
		Field:   field,
		Cause:   cause,
	}
}

func Connection(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrConnection,
		Message: message,
		Cause:   cause,
	}
}

func PoolExhausted(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrPoolExhausted,
		Message: message,
		Cause:   cause,
	}
}

func Closed() *AppError {
	return &AppError{
		Err:     ErrClosed,
		Message: "connection pool is closed",
	}
}

func Query(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrQuery,
		Message: message,
		Cause:   cause,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}
