package nn

import (
	"fmt"
	"sort"

	"github.com/roach88/fxq/internal/ir"
)

// Params are constructor parameters decoded from a model description.
type Params map[string]any

// Int reads an integer parameter, falling back to def when absent.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("parameter %q: %v is not an integer", name, v)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected integer, got %T", name, v)
	}
}

// Float reads a numeric parameter, falling back to def when absent.
func (p Params) Float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected number, got %T", name, v)
	}
}

// Bool reads a boolean parameter, falling back to def when absent.
func (p Params) Bool(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: expected bool, got %T", name, v)
	}
	return b, nil
}

// Constructor builds a library module from parameters.
type Constructor func(p Params) (Module, error)

var registry = map[ir.ModuleType]Constructor{
	TypeLinear: func(p Params) (Module, error) {
		in, err := p.Int("in_features", 1)
		if err != nil {
			return nil, err
		}
		out, err := p.Int("out_features", 1)
		if err != nil {
			return nil, err
		}
		bias, err := p.Bool("bias", true)
		if err != nil {
			return nil, err
		}
		l := NewLinear(in, out)
		l.HasBias = bias
		return l, nil
	},
	TypeConv2d: func(p Params) (Module, error) {
		in, err := p.Int("in_channels", 1)
		if err != nil {
			return nil, err
		}
		out, err := p.Int("out_channels", 1)
		if err != nil {
			return nil, err
		}
		k, err := p.Int("kernel_size", 1)
		if err != nil {
			return nil, err
		}
		c := NewConv2d(in, out, k)
		if c.Stride, err = p.Int("stride", 1); err != nil {
			return nil, err
		}
		if c.Padding, err = p.Int("padding", 0); err != nil {
			return nil, err
		}
		return c, nil
	},
	TypeBatchNorm2d: func(p Params) (Module, error) {
		n, err := p.Int("num_features", 1)
		if err != nil {
			return nil, err
		}
		return NewBatchNorm2d(n), nil
	},
	TypeReLU:     func(Params) (Module, error) { return NewReLU(), nil },
	TypeIdentity: func(Params) (Module, error) { return NewIdentity(), nil },
	TypeDropout: func(p Params) (Module, error) {
		prob, err := p.Float("p", 0.5)
		if err != nil {
			return nil, err
		}
		return NewDropout(prob), nil
	},
	TypeFloatFunctional:   func(Params) (Module, error) { return NewFloatFunctional(), nil },
	TypeFXFloatFunctional: func(Params) (Module, error) { return NewFXFloatFunctional(), nil },
}

// NewLibraryModule constructs a bundled module by type. Short names
// ("Linear") resolve against the nn and nn.quantized namespaces.
func NewLibraryModule(typ string, p Params) (Module, error) {
	t, ok := ResolveLibraryType(typ)
	if !ok {
		return nil, fmt.Errorf("unknown library module type %q", typ)
	}
	return registry[t](p)
}

// ResolveLibraryType maps a full or short type name to a registered type.
func ResolveLibraryType(typ string) (ir.ModuleType, bool) {
	if _, ok := registry[ir.ModuleType(typ)]; ok {
		return ir.ModuleType(typ), true
	}
	for _, ns := range []string{NamespaceNN, NamespaceQuantized} {
		t := typeOf(ns, typ)
		if _, ok := registry[t]; ok {
			return t, true
		}
	}
	return "", false
}

// LibraryTypes lists the registered module types, sorted.
func LibraryTypes() []ir.ModuleType {
	out := make([]ir.ModuleType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
