package errors

import (
	"errors"
	"fmt"
)

// Error codes shared across the engine packages.
const (
	CodeProcessNotFound   = "process_not_found"
	CodeInstanceNotFound  = "instance_not_found"
	CodeNodeNotFound      = "node_not_found"
	CodeInvalidDefinition = "invalid_definition"
	CodeInvalidInput      = "invalid_input"
	CodeUnhandledAction   = "unhandled_action"
	CodeInvalidState      = "invalid_state"
	CodeStorage           = "storage_error"
	CodePublish           = "publish_error"
)

var (
	// ErrProcessNotFound indicates that no definition is deployed for a process reference
	ErrProcessNotFound = errors.New("process not found")

	// ErrInstanceNotFound indicates that the instance is neither in memory nor in storage
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrNodeNotFound indicates that a node id does not exist in a definition
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidDefinition indicates that a process definition failed validation
	ErrInvalidDefinition = errors.New("invalid process definition")

	// ErrInvalidInput indicates that start variables were rejected by the definition schema
	ErrInvalidInput = errors.New("invalid process input")

	// ErrUnhandledAction indicates that the dispatcher met an action variant it cannot interpret.
	// This is a programming error and is returned to the caller instead of becoming an incident.
	ErrUnhandledAction = errors.New("unhandled action kind")

	// ErrNotIncident indicates that a retry was requested for an instance that is not parked on an incident
	ErrNotIncident = errors.New("instance is not in incident state")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrPublishFailed indicates that an event could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error represents a structured engine error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new engine error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first structured error in the chain, or "" if there is none
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err means a process, instance or node could not be found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrNodeNotFound)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
