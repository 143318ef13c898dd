package modelspec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// CompileError is a CUE error with its source position.
type CompileError struct {
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// formatCUEError keeps the first error of a CUE error list, with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// Load reads a description from a YAML (.yaml, .yml) or CUE (.cue) file.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Decode(data, path)
}

// Decode parses a description, choosing the format by the extension of
// name. Unknown keys are rejected.
func Decode(data []byte, name string) (*Description, error) {
	var d Description
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return nil, formatCUEError(err)
		}
		if err := checkCUEFields(v); err != nil {
			return nil, err
		}
		if err := v.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported model format %q (want .yaml, .yml or .cue)", ext)
	}
	return &d, nil
}

// checkCUEFields rejects top-level fields other than model and definitions.
func checkCUEFields(v cue.Value) error {
	it, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for it.Next() {
		switch sel := it.Selector().String(); sel {
		case "model", "definitions":
		default:
			return &CompileError{Message: fmt.Sprintf("unknown field %q", sel), Pos: it.Value().Pos()}
		}
	}
	return nil
}
