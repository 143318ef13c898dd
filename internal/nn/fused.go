package nn

import (
	"fmt"
	"slices"

	"github.com/roach88/fxq/internal/ir"
)

// Fused composite types.
var (
	TypeLinearReLU   = typeOf(NamespaceIntrinsic, "LinearReLU")
	TypeConvBn2d     = typeOf(NamespaceIntrinsic, "ConvBn2d")
	TypeConvReLU2d   = typeOf(NamespaceIntrinsic, "ConvReLU2d")
	TypeConvBnReLU2d = typeOf(NamespaceIntrinsic, "ConvBnReLU2d")
)

// fusionTable maps a part-type sequence to the composite it fuses into.
var fusionTable = []struct {
	parts []ir.ModuleType
	typ   ir.ModuleType
}{
	{[]ir.ModuleType{TypeLinear, TypeReLU}, TypeLinearReLU},
	{[]ir.ModuleType{TypeConv2d, TypeBatchNorm2d}, TypeConvBn2d},
	{[]ir.ModuleType{TypeConv2d, TypeReLU}, TypeConvReLU2d},
	{[]ir.ModuleType{TypeConv2d, TypeBatchNorm2d, TypeReLU}, TypeConvBnReLU2d},
}

// FusedModule is a pre-fused composite operator. Its parts are children
// named "0", "1", ... and run in order.
type FusedModule struct {
	Base
	typ ir.ModuleType
}

// Fuse builds the composite for parts, which must match a known fusion
// (e.g. Linear then ReLU).
func Fuse(parts ...Module) (*FusedModule, error) {
	types := make([]ir.ModuleType, len(parts))
	for i, p := range parts {
		types[i] = p.Type()
	}
	typ, ok := FusedTypeFor(types)
	if !ok {
		return nil, fmt.Errorf("no fused module for pattern %v", types)
	}
	f := &FusedModule{typ: typ}
	for i, p := range parts {
		f.AddChild(fmt.Sprintf("%d", i), p)
	}
	return f, nil
}

// FusedTypeFor returns the composite type for a part-type sequence.
func FusedTypeFor(parts []ir.ModuleType) (ir.ModuleType, bool) {
	for _, entry := range fusionTable {
		if slices.Equal(entry.parts, parts) {
			return entry.typ, true
		}
	}
	return "", false
}

// FusionPatterns lists every part-type sequence with a fused composite.
func FusionPatterns() [][]ir.ModuleType {
	out := make([][]ir.ModuleType, len(fusionTable))
	for i, entry := range fusionTable {
		out[i] = slices.Clone(entry.parts)
	}
	return out
}

func (f *FusedModule) Type() ir.ModuleType { return f.typ }
func (*FusedModule) Namespace() string     { return NamespaceIntrinsic }

// Parts returns the fused operators in execution order.
func (f *FusedModule) Parts() []Module {
	out := make([]Module, len(f.children))
	for i, c := range f.children {
		out[i] = c.Module
	}
	return out
}

func (f *FusedModule) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(f.typ, args)
	if err != nil {
		return nil, err
	}
	return chain(b, f.children, x)
}
