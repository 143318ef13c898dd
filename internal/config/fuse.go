package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// FuseConfig configures the fuse stage.
type FuseConfig struct {
	// PreservedAttributes are copied from the input module onto the fused
	// graph module.
	PreservedAttributes []string
}

// WithPreservedAttributes returns a copy that also preserves names.
func (c FuseConfig) WithPreservedAttributes(names ...string) *FuseConfig {
	return &FuseConfig{PreservedAttributes: appendUnique(c.PreservedAttributes, names...)}
}

// KeyPreservedAttributes is shared by the fuse, prepare and convert legacy forms.
const KeyPreservedAttributes = "preserved_attributes"

// NormalizeFuse accepts nil, *FuseConfig, FuseConfig or the legacy map form.
func NormalizeFuse(v any, logger *slog.Logger) (*FuseConfig, error) {
	switch val := v.(type) {
	case nil:
		return &FuseConfig{}, nil
	case *FuseConfig:
		if val == nil {
			return &FuseConfig{}, nil
		}
		return val, nil
	case FuseConfig:
		return &FuseConfig{PreservedAttributes: slices.Clone(val.PreservedAttributes)}, nil
	case map[string]any:
		warnDeprecated(logger, kindFuse, val)
		return fuseFromMap(val)
	default:
		return nil, &Error{Kind: kindFuse, Message: "unsupported type " + typeName(v)}
	}
}

func fuseFromMap(d map[string]any) (*FuseConfig, error) {
	if err := checkKeys(kindFuse, d, KeyPreservedAttributes); err != nil {
		return nil, err
	}
	attrs, err := stringList(kindFuse, KeyPreservedAttributes, d[KeyPreservedAttributes])
	if err != nil {
		return nil, err
	}
	return &FuseConfig{PreservedAttributes: attrs}, nil
}

func appendUnique(base []string, names ...string) []string {
	out := slices.Clone(base)
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
