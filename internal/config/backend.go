package config

import (
	"log/slog"
	"slices"

	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

// BackendConfig describes what a target backend can run: which module
// sequences it fuses and which quantized module replaces each float module.
type BackendConfig struct {
	Name             string
	FusionPatterns   [][]ir.ModuleType
	QuantizedModules map[ir.ModuleType]ir.ModuleType
}

// DefaultBackend supports every fusion in the bundled library and
// quantized counterparts for its weighted and fused modules.
func DefaultBackend() *BackendConfig {
	quantized := map[ir.ModuleType]ir.ModuleType{}
	for _, t := range []ir.ModuleType{
		nn.TypeLinear, nn.TypeConv2d, nn.TypeReLU,
		nn.TypeLinearReLU, nn.TypeConvReLU2d, nn.TypeConvBn2d, nn.TypeConvBnReLU2d,
	} {
		quantized[t] = nn.QuantizedTypeFor(t)
	}
	return &BackendConfig{
		Name:             "default",
		FusionPatterns:   nn.FusionPatterns(),
		QuantizedModules: quantized,
	}
}

// FusedType returns the composite for a module-type sequence when the
// backend supports that fusion.
func (b *BackendConfig) FusedType(parts []ir.ModuleType) (ir.ModuleType, bool) {
	for _, p := range b.FusionPatterns {
		if slices.Equal(p, parts) {
			return nn.FusedTypeFor(parts)
		}
	}
	return "", false
}

// QuantizedType returns the quantized replacement of a float module type.
func (b *BackendConfig) QuantizedType(float ir.ModuleType) (ir.ModuleType, bool) {
	t, ok := b.QuantizedModules[float]
	return t, ok
}

// WithName returns a copy with a different name.
func (b BackendConfig) WithName(name string) *BackendConfig {
	c := b.clone()
	c.Name = name
	return c
}

// WithFusionPatterns returns a copy supporting exactly patterns.
func (b BackendConfig) WithFusionPatterns(patterns ...[]ir.ModuleType) *BackendConfig {
	c := b.clone()
	c.FusionPatterns = clonePatterns(patterns)
	return c
}

// WithQuantizedModule returns a copy that maps float to quantized.
func (b BackendConfig) WithQuantizedModule(float, quantized ir.ModuleType) *BackendConfig {
	c := b.clone()
	if c.QuantizedModules == nil {
		c.QuantizedModules = map[ir.ModuleType]ir.ModuleType{}
	}
	c.QuantizedModules[float] = quantized
	return c
}

func (b BackendConfig) clone() *BackendConfig {
	return &BackendConfig{
		Name:             b.Name,
		FusionPatterns:   clonePatterns(b.FusionPatterns),
		QuantizedModules: copyTypeMap(b.QuantizedModules),
	}
}

func clonePatterns(ps [][]ir.ModuleType) [][]ir.ModuleType {
	if ps == nil {
		return nil
	}
	out := make([][]ir.ModuleType, len(ps))
	for i, p := range ps {
		out[i] = slices.Clone(p)
	}
	return out
}

// Legacy backend keys.
const (
	KeyBackendName      = "name"
	KeyFusionPatterns   = "fusion_patterns"
	KeyQuantizedModules = "quantized_modules"
)

// NormalizeBackend accepts nil (DefaultBackend), *BackendConfig,
// BackendConfig, or the legacy map form. Keys absent from a legacy map
// keep their default values.
func NormalizeBackend(v any, logger *slog.Logger) (*BackendConfig, error) {
	switch val := v.(type) {
	case nil:
		return DefaultBackend(), nil
	case *BackendConfig:
		if val == nil {
			return DefaultBackend(), nil
		}
		return val, nil
	case BackendConfig:
		return val.clone(), nil
	case map[string]any:
		warnDeprecated(logger, kindBackend, val)
		return backendFromMap(val)
	default:
		return nil, &Error{Kind: kindBackend, Message: "unsupported type " + typeName(v)}
	}
}

func backendFromMap(d map[string]any) (*BackendConfig, error) {
	if err := checkKeys(kindBackend, d, KeyBackendName, KeyFusionPatterns, KeyQuantizedModules); err != nil {
		return nil, err
	}
	b := DefaultBackend()
	if raw, ok := d[KeyBackendName]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, keyError(kindBackend, KeyBackendName, "expected string, got %T", raw)
		}
		b.Name = name
	}
	if raw, ok := d[KeyFusionPatterns]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, keyError(kindBackend, KeyFusionPatterns, "expected a list of patterns, got %T", raw)
		}
		patterns := make([][]ir.ModuleType, len(list))
		for i, item := range list {
			p, err := typeList(kindBackend, KeyFusionPatterns, item)
			if err != nil {
				return nil, err
			}
			if _, ok := nn.FusedTypeFor(p); !ok {
				return nil, keyError(kindBackend, KeyFusionPatterns, "pattern %d %v has no fused module", i, p)
			}
			patterns[i] = p
		}
		b.FusionPatterns = patterns
	}
	if raw, ok := d[KeyQuantizedModules]; ok {
		m, err := typeMap(kindBackend, KeyQuantizedModules, raw)
		if err != nil {
			return nil, err
		}
		b.QuantizedModules = m
	}
	return b, nil
}
