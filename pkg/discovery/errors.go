// Package discovery provides the core types and interfaces for the bindkit
// component discovery pipeline. It defines the flow from module scanning
// through convention resolution, conditional gating, and plugin coordination
// to the final ordered descriptor set handed to a binding container.
package discovery

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: artifact probe races, watcher hiccups.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a registration or state conflict.
	// Examples: duplicate plugin names, duplicate contract bindings.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid manifests, malformed descriptors, missing artifacts.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error represents a classified discovery error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Module is the module key that caused the error, if applicable.
	Module string `json:"module,omitempty"`

	// Plugin is the plugin involved when the error occurred, if applicable.
	Plugin string `json:"plugin,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Module != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (module=%s, operation=%s): %s",
			e.Class, e.Message, e.Module, e.Operation, e.unwrapMessage())
	}
	if e.Plugin != "" {
		return fmt.Sprintf("[%s] %s (plugin=%s): %s",
			e.Class, e.Message, e.Plugin, e.unwrapMessage())
	}
	if e.Module != "" {
		return fmt.Sprintf("[%s] %s (module=%s): %s",
			e.Class, e.Message, e.Module, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithModule adds module context to an error.
func (e *Error) WithModule(moduleKey string) *Error {
	e.Module = moduleKey
	return e
}

// WithPlugin adds plugin context to an error.
func (e *Error) WithPlugin(plugin string) *Error {
	e.Plugin = plugin
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodePluginFailed  = "PLUGIN_FAILED"
	ErrCodeIntrospection = "INTROSPECTION_FAILED"
	ErrCodeConvention    = "CONVENTION_FAILED"
	ErrCodeCondition     = "CONDITION_FAILED"
	ErrCodeBinding       = "BINDING_FAILED"
	ErrCodeStore         = "STORE_FAILED"
)
