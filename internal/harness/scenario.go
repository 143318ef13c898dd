package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/quantize"
)

// Scenario is one pipeline run over a model description plus the
// expectations on its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the path of a model description (.yaml or .cue).
	Model string `yaml:"model"`

	// Config is the path of an optional config bundle.
	Config string `yaml:"config,omitempty"`

	// Run selects how far the pipeline goes: fuse, prepare or quantize
	// (the default).
	Run string `yaml:"run,omitempty"`

	// QAT prepares for quantization-aware training.
	QAT bool `yaml:"qat,omitempty"`

	// Reference converts to the reference representation.
	Reference bool `yaml:"reference,omitempty"`

	// ExpectError is the pipeline error code the run must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the recorded units and the final graph.
	Assertions []Assertion `yaml:"assertions"`
}

// Run modes.
const (
	RunFuse     = "fuse"
	RunPrepare  = "prepare"
	RunQuantize = "quantize"
)

// Assertion checks one property of a scenario result.
type Assertion struct {
	// Type selects the assertion; see the package documentation.
	Type string `yaml:"type"`

	// Unit is the qualified path of the unit to inspect ("" for the top level).
	Unit string `yaml:"unit,omitempty"`

	// Stage names the stage to inspect (node_order, node_count).
	Stage string `yaml:"stage,omitempty"`

	// Nodes is the expected node order (node_order).
	Nodes []string `yaml:"nodes,omitempty"`

	// Target is the node target to count (node_count).
	Target string `yaml:"target,omitempty"`

	// Count is the expected number of matches (node_count, unit_count).
	Count int `yaml:"count,omitempty"`

	// Path is a module table path (module_type).
	Path string `yaml:"path,omitempty"`

	// ModuleType is the expected module type (module_type).
	ModuleType string `yaml:"module_type,omitempty"`

	// Node, Key and Value select a metadata entry (meta). A missing Value
	// asserts the key is absent.
	Node  string `yaml:"node,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Stages lists the stages whose graphs must be identical (same_graph).
	Stages []string `yaml:"stages,omitempty"`
}

// Assertion type constants.
const (
	AssertNodeOrder  = "node_order"
	AssertNodeCount  = "node_count"
	AssertModuleType = "module_type"
	AssertMeta       = "meta"
	AssertSameGraph  = "same_graph"
	AssertUnitCount  = "unit_count"
)

// LoadScenario reads a scenario file, resolving model and config paths
// relative to the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving model and
// config paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.Model = resolve(basePath, scenario.Model)
	scenario.Config = resolve(basePath, scenario.Config)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	for _, p := range []string{s.Model, s.Config} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", p)
		}
	}

	switch s.Run {
	case "", RunFuse, RunPrepare, RunQuantize:
	default:
		return fmt.Errorf("unknown run mode %q (want fuse, prepare or quantize)", s.Run)
	}
	if s.ExpectError != "" {
		if !knownErrorCode(quantize.ErrorCode(s.ExpectError)) {
			return fmt.Errorf("unknown expect_error code %q", s.ExpectError)
		}
	}
	if len(s.Assertions) == 0 && s.ExpectError == "" {
		return fmt.Errorf("assertions list is required unless expect_error is set")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func knownErrorCode(c quantize.ErrorCode) bool {
	switch c {
	case quantize.ErrCodeContractViolation, quantize.ErrCodeTraceFailed, quantize.ErrCodePassFailed,
		quantize.ErrCodeMissingAttribute, quantize.ErrCodeStandaloneDepth, quantize.ErrCodeInvalidConfig,
		quantize.ErrCodeRecordFailed:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	needStage := func() error {
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for %s", index, a.Type)
		}
		if _, err := fx.ParseStage(a.Stage); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertNodeOrder:
		if err := needStage(); err != nil {
			return err
		}
		if len(a.Nodes) == 0 {
			return fmt.Errorf("assertions[%d]: nodes list is required for node_order", index)
		}
	case AssertNodeCount:
		if err := needStage(); err != nil {
			return err
		}
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for node_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for node_count", index)
		}
	case AssertModuleType:
		if a.Path == "" || a.ModuleType == "" {
			return fmt.Errorf("assertions[%d]: path and module_type are required for module_type", index)
		}
	case AssertMeta:
		if a.Node == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: node and key are required for meta", index)
		}
	case AssertSameGraph:
		if len(a.Stages) < 2 {
			return fmt.Errorf("assertions[%d]: at least two stages are required for same_graph", index)
		}
		for _, st := range a.Stages {
			if _, err := fx.ParseStage(st); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertUnitCount:
		if a.Count < 1 {
			return fmt.Errorf("assertions[%d]: count must be positive for unit_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
