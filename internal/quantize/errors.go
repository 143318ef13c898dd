package quantize

import (
	"errors"
	"fmt"

	"github.com/roach88/fxq/internal/fx"
)

// ErrorCode categorizes pipeline failures.
type ErrorCode string

const (
	// ErrCodeContractViolation means a stage was handed the wrong kind of
	// object, e.g. a plain module where a prepared graph is required.
	ErrCodeContractViolation ErrorCode = "CONTRACT_VIOLATION"

	// ErrCodeTraceFailed means the graph builder failed.
	ErrCodeTraceFailed ErrorCode = "TRACE_FAILED"

	// ErrCodePassFailed means a fuse, prepare or convert pass failed.
	ErrCodePassFailed ErrorCode = "PASS_FAILED"

	// ErrCodeMissingAttribute means a preserved attribute is absent on the source.
	ErrCodeMissingAttribute ErrorCode = "MISSING_ATTRIBUTE"

	// ErrCodeStandaloneDepth means standalone units nest deeper than allowed.
	ErrCodeStandaloneDepth ErrorCode = "STANDALONE_DEPTH"

	// ErrCodeInvalidConfig means a configuration argument could not be normalized.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeRecordFailed means the compilation log rejected a record.
	ErrCodeRecordFailed ErrorCode = "RECORD_FAILED"
)

// Error is a pipeline failure. It aborts the compilation unit named by Unit.
type Error struct {
	Code ErrorCode

	// Stage is the stage being entered when the failure happened.
	Stage fx.Stage

	// Unit is the qualified path of the standalone unit ("" for the top level).
	Unit string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	where := e.Stage.String()
	if e.Unit != "" {
		where = fmt.Sprintf("%s of %q", where, e.Unit)
	}
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, where, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCodeOf returns the code of the pipeline Error err wraps, or "".
func ErrorCodeOf(err error) ErrorCode {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsContractViolation reports whether err is a contract violation.
func IsContractViolation(err error) bool {
	return ErrorCodeOf(err) == ErrCodeContractViolation
}

func contractError(stage fx.Stage, unit, format string, args ...any) *Error {
	return &Error{Code: ErrCodeContractViolation, Stage: stage, Unit: unit, Message: fmt.Sprintf(format, args...)}
}
