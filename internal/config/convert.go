package config

import (
	"log/slog"
	"slices"

	"github.com/roach88/fxq/internal/ir"
)

// ConvertConfig configures the convert stage.
type ConvertConfig struct {
	PreservedAttributes []string

	// ObservedToQuantized maps observed custom module types to the
	// quantized types that replace them.
	ObservedToQuantized map[ir.ModuleType]ir.ModuleType
}

// WithPreservedAttributes returns a copy that also preserves names.
func (c ConvertConfig) WithPreservedAttributes(names ...string) *ConvertConfig {
	out := c.clone()
	out.PreservedAttributes = appendUnique(c.PreservedAttributes, names...)
	return out
}

// WithObservedToQuantized returns a copy mapping observed to quantized.
func (c ConvertConfig) WithObservedToQuantized(observed, quantized ir.ModuleType) *ConvertConfig {
	out := c.clone()
	if out.ObservedToQuantized == nil {
		out.ObservedToQuantized = map[ir.ModuleType]ir.ModuleType{}
	}
	out.ObservedToQuantized[observed] = quantized
	return out
}

func (c ConvertConfig) clone() *ConvertConfig {
	return &ConvertConfig{
		PreservedAttributes: slices.Clone(c.PreservedAttributes),
		ObservedToQuantized: copyTypeMap(c.ObservedToQuantized),
	}
}

// KeyObservedToQuantized is the legacy key for ObservedToQuantized.
const KeyObservedToQuantized = "observed_to_quantized_custom_module_class"

// NormalizeConvert accepts nil, *ConvertConfig, ConvertConfig or the
// legacy map form.
func NormalizeConvert(v any, logger *slog.Logger) (*ConvertConfig, error) {
	switch val := v.(type) {
	case nil:
		return &ConvertConfig{}, nil
	case *ConvertConfig:
		if val == nil {
			return &ConvertConfig{}, nil
		}
		return val, nil
	case ConvertConfig:
		return val.clone(), nil
	case map[string]any:
		warnDeprecated(logger, kindConvert, val)
		return convertFromMap(val)
	default:
		return nil, &Error{Kind: kindConvert, Message: "unsupported type " + typeName(v)}
	}
}

func convertFromMap(d map[string]any) (*ConvertConfig, error) {
	if err := checkKeys(kindConvert, d, KeyPreservedAttributes, KeyObservedToQuantized); err != nil {
		return nil, err
	}
	attrs, err := stringList(kindConvert, KeyPreservedAttributes, d[KeyPreservedAttributes])
	if err != nil {
		return nil, err
	}
	custom, err := typeMap(kindConvert, KeyObservedToQuantized, d[KeyObservedToQuantized])
	if err != nil {
		return nil, err
	}
	return &ConvertConfig{PreservedAttributes: attrs, ObservedToQuantized: custom}, nil
}
