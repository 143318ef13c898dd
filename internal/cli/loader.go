package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/modelspec"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/qconfig"
)

// LoadError represents an error that occurred while loading a model
// description or a config file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeModelLoad    = "E002" // Model description unreadable
	ErrCodeConfigLoad   = "E003" // Config, policy or backend unusable
	ErrCodePipeline     = "E004" // Pipeline failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeStore        = "E006" // Compilation log unusable
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeInvalidModel = "E008" // Model description failed validation
	ErrCodeRunsDiffer   = "E009" // Two recorded runs differ
	ErrCodeTestFailed   = "E010" // One or more scenarios failed
)

// LoadModel reads a model description and builds its root module.
func LoadModel(path string) (nn.Module, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("model not found: %s", path)}
	}
	d, err := modelspec.Load(path)
	if err != nil {
		return nil, convertModelError(err)
	}
	m, err := modelspec.Build(d)
	if err != nil {
		var verr modelspec.ValidationError
		if errors.As(err, &verr) {
			return nil, &LoadError{Code: ErrCodeInvalidModel, Message: err.Error()}
		}
		return nil, &LoadError{Code: ErrCodeModelLoad, Message: err.Error()}
	}
	return m, nil
}

// convertModelError keeps the CUE position of a description parse error.
func convertModelError(err error) *LoadError {
	var compileErr *modelspec.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{Code: ErrCodeModelLoad, Message: compileErr.Message, Pos: compileErr.Pos}
	}
	return &LoadError{Code: ErrCodeModelLoad, Message: err.Error()}
}

// BundleOptions selects the configuration of a pipeline run.
type BundleOptions struct {
	Config  string // bundle file (YAML or CUE)
	Policy  string // preset name; replaces the bundle's global policy
	Backend string // file holding a backend section
}

// LoadBundle builds the configuration for a run. Without a config file
// every operation is quantized with the default policy.
func LoadBundle(opts BundleOptions) (*config.Bundle, error) {
	b := &config.Bundle{
		Policy:  qconfig.NewMapping().SetGlobal(qconfig.Default),
		Fuse:    &config.FuseConfig{},
		Prepare: &config.PrepareConfig{},
		Convert: &config.ConvertConfig{},
		Backend: config.DefaultBackend(),
	}
	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", opts.Config)}
		}
		loaded, err := config.LoadBundle(opts.Config)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeConfigLoad, Message: err.Error()}
		}
		b = loaded
	}
	if opts.Policy != "" {
		p, ok := qconfig.Preset(opts.Policy)
		if !ok {
			return nil, &LoadError{
				Code:    ErrCodeConfigLoad,
				Message: fmt.Sprintf("unknown policy %q: must be one of %v", opts.Policy, qconfig.PresetNames()),
			}
		}
		b.Policy.SetGlobal(p)
	}
	if opts.Backend != "" {
		d, err := config.LoadFile(opts.Backend)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeConfigLoad, Message: err.Error()}
		}
		backend, err := config.BundleFromMap(map[string]any{config.SectionBackend: d})
		if err != nil {
			return nil, &LoadError{Code: ErrCodeConfigLoad, Message: err.Error()}
		}
		b.Backend = backend.Backend
	}
	return b, nil
}
