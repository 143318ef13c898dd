package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Pipeline or test failure (failed stage, failed scenario, diverging runs)
	ExitCommandError = 2 // Command error (invalid paths, unreadable model, database not found, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// GraphReport describes a graph module produced by a command.
type GraphReport struct {
	Model       string          `json:"model"`
	RootType    string          `json:"root_type"`
	Stage       string          `json:"stage"`
	UnitID      string          `json:"unit_id,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Nodes       int             `json:"nodes"`
	Graph       json.RawMessage `json:"graph"`
}

// NewGraphReport captures gm in its canonical form.
func NewGraphReport(model string, gm *fx.GraphModule) (*GraphReport, error) {
	data, err := ir.MarshalGraph(gm.Graph)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	fp, err := ir.Fingerprint(gm.Graph)
	if err != nil {
		return nil, err
	}
	return &GraphReport{
		Model:       model,
		RootType:    string(gm.RootType),
		Stage:       gm.Stage().String(),
		UnitID:      gm.UnitID,
		Fingerprint: fp,
		Nodes:       len(gm.Graph.Nodes()),
		Graph:       data,
	}, nil
}

// Graph outputs a graph module: the report in JSON, or a header line and
// the node table in text.
func (f *OutputFormatter) Graph(model string, gm *fx.GraphModule) error {
	report, err := NewGraphReport(model, gm)
	if err != nil {
		return err
	}
	if f.Format == "json" {
		return f.Success(report)
	}
	fmt.Fprintf(f.Writer, "%s (%s) stage=%s fingerprint=%s\n", report.Model, report.RootType, report.Stage, report.Fingerprint)
	if report.UnitID != "" {
		f.VerboseLog("unit %s", report.UnitID)
	}
	fmt.Fprint(f.Writer, ir.Pretty(gm.Graph))
	return nil
}
