package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/modelspec"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Configs []string // config bundles to check alongside the models
}

// ValidationIssue is one problem found in a file.
type ValidationIssue struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <model>...",
		Short: "Validate model descriptions without tracing",
		Long: `Validate model descriptions (YAML or CUE) without tracing them.

Reports every problem at once: unknown module types, undefined values,
malformed steps, recursive definitions. Config bundles given with
--config are normalized and checked too.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Configs, "config", nil, "config bundle to validate (repeatable)")

	return cmd
}

func runValidate(opts *ValidateOptions, models []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var issues []ValidationIssue
	for _, path := range models {
		formatter.VerboseLog("Validating model: %s", path)
		issues = append(issues, validateModel(path)...)
	}
	for _, path := range opts.Configs {
		formatter.VerboseLog("Validating config: %s", path)
		if _, err := config.LoadBundle(path); err != nil {
			issue := ValidationIssue{File: path, Code: ErrCodeConfigLoad, Message: err.Error()}
			var configErr *config.Error
			if errors.As(err, &configErr) {
				issue.Line = lineOf(configErr.Pos)
			}
			issues = append(issues, issue)
		}
	}

	result := ValidationResult{
		Valid:  len(issues) == 0,
		Files:  len(models) + len(opts.Configs),
		Errors: issues,
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateModel parses one description and checks it.
func validateModel(path string) []ValidationIssue {
	d, err := modelspec.Load(path)
	if err != nil {
		var compileErr *modelspec.CompileError
		if errors.As(err, &compileErr) {
			return []ValidationIssue{{
				File:    path,
				Code:    ErrCodeModelLoad,
				Message: compileErr.Message,
				Line:    lineOf(compileErr.Pos),
			}}
		}
		return []ValidationIssue{{File: path, Code: ErrCodeModelLoad, Message: err.Error()}}
	}

	var issues []ValidationIssue
	for _, verr := range modelspec.Validate(d) {
		issues = append(issues, ValidationIssue{
			File:    path,
			Field:   verr.Field,
			Code:    verr.Code,
			Message: verr.Message,
		})
	}
	return issues
}

// lineOf extracts the line number from a CUE position.
func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %d file(s) valid\n", result.Files)
	return nil
}

// outputValidationErrors outputs every issue found.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", err.File, err.Line)
		} else {
			fmt.Fprintln(formatter.Writer, err.File)
		}
		if err.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
		}
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
