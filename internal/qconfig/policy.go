package qconfig

import (
	"fmt"
	"sort"
)

// DType is a numeric element type an observed value is quantized to.
type DType string

const (
	QUInt8  DType = "quint8"
	QInt8   DType = "qint8"
	QInt32  DType = "qint32"
	Float16 DType = "float16"
	Float32 DType = "float32"
)

// Validate returns an error for unknown dtypes.
func (d DType) Validate() error {
	switch d {
	case QUInt8, QInt8, QInt32, Float16, Float32:
		return nil
	default:
		return fmt.Errorf("unknown dtype %q", string(d))
	}
}

// IsQuantized reports whether d is an integer quantized type.
func (d DType) IsQuantized() bool {
	return d == QUInt8 || d == QInt8 || d == QInt32
}

// Range returns the representable integer range of a quantized dtype.
func (d DType) Range() (lo, hi int64) {
	switch d {
	case QUInt8:
		return 0, 255
	case QInt8:
		return -128, 127
	case QInt32:
		return -1 << 31, 1<<31 - 1
	default:
		return 0, 0
	}
}

// Policy says how the values around one operation are quantized.
// A nil *Policy means "leave in floating point".
type Policy struct {
	Name       string `json:"name" yaml:"name"`
	Activation DType  `json:"activation" yaml:"activation"`
	Weight     DType  `json:"weight" yaml:"weight"`
	Dynamic    bool   `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
}

// Quantizes reports whether p changes anything.
func (p *Policy) Quantizes() bool {
	if p == nil {
		return false
	}
	return p.Activation.IsQuantized() || p.Weight.IsQuantized() || p.Activation == Float16
}

// Validate checks both dtypes.
func (p *Policy) Validate() error {
	if p == nil {
		return nil
	}
	if err := p.Activation.Validate(); err != nil {
		return fmt.Errorf("policy %q activation: %w", p.Name, err)
	}
	if err := p.Weight.Validate(); err != nil {
		return fmt.Errorf("policy %q weight: %w", p.Name, err)
	}
	return nil
}

// Preset policies, addressable by name in configuration files.
var (
	Default = &Policy{Name: "default", Activation: QUInt8, Weight: QInt8}
	Dynamic = &Policy{Name: "dynamic", Activation: QUInt8, Weight: QInt8, Dynamic: true}
	FP16    = &Policy{Name: "fp16", Activation: Float16, Weight: Float16}
	Float   = &Policy{Name: "float", Activation: Float32, Weight: Float32}
)

var presets = map[string]*Policy{
	Default.Name: Default,
	Dynamic.Name: Dynamic,
	FP16.Name:    FP16,
	Float.Name:   Float,
}

// Preset returns a preset policy by name.
func Preset(name string) (*Policy, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
