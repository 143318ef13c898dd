package config

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/qconfig"
)

// StandaloneSpec configures one standalone unit. A nil Policy or Backend
// inherits the parent's; a nil Prepare means an empty prepare config.
type StandaloneSpec struct {
	Policy        *qconfig.Mapping
	ExampleInputs []any
	Prepare       *PrepareConfig
	Backend       *BackendConfig
}

// PrepareConfig configures the prepare stage.
type PrepareConfig struct {
	PreservedAttributes []string

	// NonTraceableModuleNames and NonTraceableModuleTypes are recorded as
	// leaves instead of being traced into.
	NonTraceableModuleNames []string
	NonTraceableModuleTypes []ir.ModuleType

	// StandaloneModuleNames and StandaloneModuleTypes select sub-modules
	// compiled as independent units. A name match wins over a type match.
	StandaloneModuleNames map[string]StandaloneSpec
	StandaloneModuleTypes map[ir.ModuleType]StandaloneSpec

	// FloatToObserved maps float custom module types to their observed
	// replacements. Their instances are never traced into.
	FloatToObserved map[ir.ModuleType]ir.ModuleType

	// InputQuantizedIndices and OutputQuantizedIndices describe the
	// quantization boundary of a graph compiled as a standalone unit.
	InputQuantizedIndices  []int
	OutputQuantizedIndices []int
}

// StandaloneFor returns the standalone spec matching a sub-module by
// qualified name, then by type.
func (c *PrepareConfig) StandaloneFor(path string, typ ir.ModuleType) (StandaloneSpec, bool) {
	if c == nil {
		return StandaloneSpec{}, false
	}
	if s, ok := c.StandaloneModuleNames[path]; ok {
		return s, true
	}
	s, ok := c.StandaloneModuleTypes[typ]
	return s, ok
}

// WithPreservedAttributes returns a copy that also preserves names.
func (c PrepareConfig) WithPreservedAttributes(names ...string) *PrepareConfig {
	out := c.clone()
	out.PreservedAttributes = appendUnique(c.PreservedAttributes, names...)
	return out
}

// WithNonTraceableModuleNames returns a copy with additional non-traceable names.
func (c PrepareConfig) WithNonTraceableModuleNames(names ...string) *PrepareConfig {
	out := c.clone()
	out.NonTraceableModuleNames = appendUnique(c.NonTraceableModuleNames, names...)
	return out
}

// WithNonTraceableModuleTypes returns a copy with additional non-traceable types.
func (c PrepareConfig) WithNonTraceableModuleTypes(types ...ir.ModuleType) *PrepareConfig {
	out := c.clone()
	for _, t := range types {
		if !slices.Contains(out.NonTraceableModuleTypes, t) {
			out.NonTraceableModuleTypes = append(out.NonTraceableModuleTypes, t)
		}
	}
	return out
}

// WithStandaloneModuleName returns a copy compiling the sub-module at name
// as a standalone unit.
func (c PrepareConfig) WithStandaloneModuleName(name string, spec StandaloneSpec) *PrepareConfig {
	out := c.clone()
	if out.StandaloneModuleNames == nil {
		out.StandaloneModuleNames = map[string]StandaloneSpec{}
	}
	out.StandaloneModuleNames[name] = spec
	return out
}

// WithStandaloneModuleType returns a copy compiling every sub-module of
// type typ as a standalone unit.
func (c PrepareConfig) WithStandaloneModuleType(typ ir.ModuleType, spec StandaloneSpec) *PrepareConfig {
	out := c.clone()
	if out.StandaloneModuleTypes == nil {
		out.StandaloneModuleTypes = map[ir.ModuleType]StandaloneSpec{}
	}
	out.StandaloneModuleTypes[typ] = spec
	return out
}

// WithFloatToObserved returns a copy mapping a float custom type to its observed type.
func (c PrepareConfig) WithFloatToObserved(float, observed ir.ModuleType) *PrepareConfig {
	out := c.clone()
	if out.FloatToObserved == nil {
		out.FloatToObserved = map[ir.ModuleType]ir.ModuleType{}
	}
	out.FloatToObserved[float] = observed
	return out
}

// WithInputQuantizedIndices returns a copy with the given input boundary.
func (c PrepareConfig) WithInputQuantizedIndices(idx ...int) *PrepareConfig {
	out := c.clone()
	out.InputQuantizedIndices = slices.Clone(idx)
	return out
}

// WithOutputQuantizedIndices returns a copy with the given output boundary.
func (c PrepareConfig) WithOutputQuantizedIndices(idx ...int) *PrepareConfig {
	out := c.clone()
	out.OutputQuantizedIndices = slices.Clone(idx)
	return out
}

// StandaloneNames returns the configured standalone names, sorted.
func (c *PrepareConfig) StandaloneNames() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.StandaloneModuleNames))
}

// StandaloneTypes returns the configured standalone types, sorted.
func (c *PrepareConfig) StandaloneTypes() []ir.ModuleType {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.StandaloneModuleTypes))
}

func (c PrepareConfig) clone() *PrepareConfig {
	out := &PrepareConfig{
		PreservedAttributes:     slices.Clone(c.PreservedAttributes),
		NonTraceableModuleNames: slices.Clone(c.NonTraceableModuleNames),
		NonTraceableModuleTypes: slices.Clone(c.NonTraceableModuleTypes),
		FloatToObserved:         copyTypeMap(c.FloatToObserved),
		InputQuantizedIndices:   slices.Clone(c.InputQuantizedIndices),
		OutputQuantizedIndices:  slices.Clone(c.OutputQuantizedIndices),
	}
	if c.StandaloneModuleNames != nil {
		out.StandaloneModuleNames = maps.Clone(c.StandaloneModuleNames)
	}
	if c.StandaloneModuleTypes != nil {
		out.StandaloneModuleTypes = maps.Clone(c.StandaloneModuleTypes)
	}
	return out
}

// Legacy prepare keys.
const (
	KeyNonTraceableModuleName  = "non_traceable_module_name"
	KeyNonTraceableModuleClass = "non_traceable_module_class"
	KeyStandaloneModuleName    = "standalone_module_name"
	KeyStandaloneModuleClass   = "standalone_module_class"
	KeyFloatToObserved         = "float_to_observed_custom_module_class"
	KeyInputQuantizedIdxs      = "input_quantized_idxs"
	KeyOutputQuantizedIdxs     = "output_quantized_idxs"
)

// NormalizePrepare accepts nil, *PrepareConfig, PrepareConfig or the
// legacy map form.
func NormalizePrepare(v any, logger *slog.Logger) (*PrepareConfig, error) {
	switch val := v.(type) {
	case nil:
		return &PrepareConfig{}, nil
	case *PrepareConfig:
		if val == nil {
			return &PrepareConfig{}, nil
		}
		return val, nil
	case PrepareConfig:
		return val.clone(), nil
	case map[string]any:
		warnDeprecated(logger, kindPrepare, val)
		return prepareFromMap(val)
	default:
		return nil, &Error{Kind: kindPrepare, Message: "unsupported type " + typeName(v)}
	}
}

func prepareFromMap(d map[string]any) (*PrepareConfig, error) {
	if err := checkKeys(kindPrepare, d,
		KeyPreservedAttributes, KeyNonTraceableModuleName, KeyNonTraceableModuleClass,
		KeyStandaloneModuleName, KeyStandaloneModuleClass, KeyFloatToObserved,
		KeyInputQuantizedIdxs, KeyOutputQuantizedIdxs); err != nil {
		return nil, err
	}

	c := &PrepareConfig{}
	var err error
	if c.PreservedAttributes, err = stringList(kindPrepare, KeyPreservedAttributes, d[KeyPreservedAttributes]); err != nil {
		return nil, err
	}
	if c.NonTraceableModuleNames, err = stringList(kindPrepare, KeyNonTraceableModuleName, d[KeyNonTraceableModuleName]); err != nil {
		return nil, err
	}
	if c.NonTraceableModuleTypes, err = typeList(kindPrepare, KeyNonTraceableModuleClass, d[KeyNonTraceableModuleClass]); err != nil {
		return nil, err
	}
	if c.FloatToObserved, err = typeMap(kindPrepare, KeyFloatToObserved, d[KeyFloatToObserved]); err != nil {
		return nil, err
	}
	if c.InputQuantizedIndices, err = intList(kindPrepare, KeyInputQuantizedIdxs, d[KeyInputQuantizedIdxs]); err != nil {
		return nil, err
	}
	if c.OutputQuantizedIndices, err = intList(kindPrepare, KeyOutputQuantizedIdxs, d[KeyOutputQuantizedIdxs]); err != nil {
		return nil, err
	}

	byName, err := standaloneTuples(d, KeyStandaloneModuleName)
	if err != nil {
		return nil, err
	}
	for name, spec := range byName {
		if c.StandaloneModuleNames == nil {
			c.StandaloneModuleNames = map[string]StandaloneSpec{}
		}
		c.StandaloneModuleNames[name] = spec
	}
	byType, err := standaloneTuples(d, KeyStandaloneModuleClass)
	if err != nil {
		return nil, err
	}
	for typ, spec := range byType {
		if c.StandaloneModuleTypes == nil {
			c.StandaloneModuleTypes = map[ir.ModuleType]StandaloneSpec{}
		}
		c.StandaloneModuleTypes[ir.ModuleType(typ)] = spec
	}
	return c, nil
}

// standaloneTuples decodes [[key, policy?, example_inputs?, prepare?, backend?], ...].
func standaloneTuples(d map[string]any, key string) (map[string]StandaloneSpec, error) {
	raw, ok := d[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, keyError(kindPrepare, key, "expected a list, got %T", raw)
	}
	out := make(map[string]StandaloneSpec, len(list))
	for i, item := range list {
		tuple, ok := item.([]any)
		if !ok || len(tuple) == 0 || len(tuple) > 5 {
			return nil, keyError(kindPrepare, key, "item %d: expected [name, policy, example_inputs, prepare, backend]", i)
		}
		for len(tuple) < 5 {
			tuple = append(tuple, nil)
		}
		name, ok := tuple[0].(string)
		if !ok {
			return nil, keyError(kindPrepare, key, "item %d: expected string name, got %T", i, tuple[0])
		}

		var spec StandaloneSpec
		if tuple[1] != nil {
			pm, err := asMap(kindPrepare, key, tuple[1])
			if err != nil {
				return nil, err
			}
			if spec.Policy, err = qconfig.FromMap(pm); err != nil {
				return nil, &Error{Kind: kindPrepare, Key: key, Message: "standalone " + name + " policy", Err: err}
			}
		}
		if tuple[2] != nil {
			inputs, ok := tuple[2].([]any)
			if !ok {
				return nil, keyError(kindPrepare, key, "item %d: example inputs must be a list", i)
			}
			spec.ExampleInputs = inputs
		}
		if tuple[3] != nil {
			pm, err := asMap(kindPrepare, key, tuple[3])
			if err != nil {
				return nil, err
			}
			if spec.Prepare, err = prepareFromMap(pm); err != nil {
				return nil, err
			}
		}
		if tuple[4] != nil {
			bm, err := asMap(kindPrepare, key, tuple[4])
			if err != nil {
				return nil, err
			}
			if spec.Backend, err = backendFromMap(bm); err != nil {
				return nil, err
			}
		}
		out[name] = spec
	}
	return out, nil
}
