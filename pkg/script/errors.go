package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorTypeSyntax      ErrorType = "syntax_error"
	ErrorTypeRuntime     ErrorType = "runtime_error"
	ErrorTypeTimeout     ErrorType = "timeout_error"
	ErrorTypeSecurity    ErrorType = "security_error"
	ErrorTypeUnsupported ErrorType = "unsupported_format"
	ErrorTypeInternal    ErrorType = "internal_error"
)

// Error is a structured script failure.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
	Column  int       `json:"column,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ", column %d", e.Column)
		}
	}
	return b.String()
}

// TypeOf returns the ErrorType of err, or "" when err is not a script error.
func TypeOf(err error) ErrorType {
	var se *Error
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}

// fromException converts a goja exception into an Error.
func fromException(exc *goja.Exception) *Error {
	e := &Error{Type: ErrorTypeRuntime, Message: exc.Error()}

	if frames := exc.Stack(); len(frames) > 0 {
		pos := frames[0].Position()
		e.Line = pos.Line
		e.Column = pos.Column
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "syntaxerror"):
		e.Type = ErrorTypeSyntax
	case strings.Contains(msg, "not allowed"):
		e.Type = ErrorTypeSecurity
	}
	return e
}

func wrapError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fromException(exc)
	}
	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return &Error{Type: ErrorTypeSyntax, Message: syn.Error()}
	}
	return &Error{Type: ErrorTypeInternal, Message: err.Error()}
}

func newTimeoutError(timeoutMs int64) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Message: fmt.Sprintf("execution timeout after %dms", timeoutMs),
	}
}

func newSecurityError(message string) *Error {
	return &Error{Type: ErrorTypeSecurity, Message: message}
}
