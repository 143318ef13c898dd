package tracer

import (
	"errors"
	"fmt"
)

// TraceErrorCode categorizes trace failures.
type TraceErrorCode string

const (
	// ErrCodeDataDependent means control flow depended on a traced value.
	ErrCodeDataDependent TraceErrorCode = "DATA_DEPENDENT_CONTROL_FLOW"

	// ErrCodeUnknownModule means a forward called a module outside the traced hierarchy.
	ErrCodeUnknownModule TraceErrorCode = "UNKNOWN_MODULE"

	// ErrCodeForwardFailed means a module's forward returned an error.
	ErrCodeForwardFailed TraceErrorCode = "FORWARD_FAILED"

	// ErrCodeMaxDepth means module nesting exceeded the configured ceiling.
	ErrCodeMaxDepth TraceErrorCode = "MAX_DEPTH"

	// ErrCodeInvalidGraph means the emitted graph violated an IR invariant.
	ErrCodeInvalidGraph TraceErrorCode = "INVALID_GRAPH"

	// ErrCodeInputMismatch means example inputs do not match the forward signature.
	ErrCodeInputMismatch TraceErrorCode = "INPUT_MISMATCH"
)

// TraceError reports why a trace failed and in which module.
// A trace failure is fatal for the compilation unit being traced.
type TraceError struct {
	// Code identifies the failure category.
	Code TraceErrorCode

	// Module is the qualified path of the module being traced ("" for the root).
	Module string

	// Message is a human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *TraceError) Error() string {
	where := e.Module
	if where == "" {
		where = "<root>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s in %s: %v", e.Code, e.Message, where, e.Err)
	}
	return fmt.Sprintf("%s: %s in %s", e.Code, e.Message, where)
}

// Unwrap returns the underlying error.
func (e *TraceError) Unwrap() error {
	return e.Err
}

// IsTraceError reports whether err is (or wraps) a TraceError.
func IsTraceError(err error) bool {
	var te *TraceError
	return errors.As(err, &te)
}

// IsDataDependentError reports whether err is a data-dependent control-flow failure.
// Uses errors.As to handle wrapped errors.
func IsDataDependentError(err error) bool {
	var te *TraceError
	if errors.As(err, &te) {
		return te.Code == ErrCodeDataDependent
	}
	return false
}
