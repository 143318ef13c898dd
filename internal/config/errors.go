package config

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error reports a configuration that cannot be normalized.
type Error struct {
	// Kind is the config being normalized ("prepare", "convert", ...).
	Kind string

	// Key is the offending legacy key, if any.
	Key string

	// Message is a human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error

	// Pos locates the error in a CUE source, when known.
	Pos token.Pos
}

// Error implements the error interface.
func (e *Error) Error() string {
	where := e.Kind
	if e.Key != "" {
		where += "." + e.Key
	}
	msg := fmt.Sprintf("invalid %s config: %s", where, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is (or wraps) a config Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func keyError(kind, key string, format string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

// cueError turns the first error of a CUE error list into a positioned
// Error.
func cueError(name string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Kind: "file", Message: name, Err: err}
	}
	first := errs[0]
	e := &Error{Kind: "file", Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
