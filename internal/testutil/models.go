package testutil

import (
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

// Fixture module types.
const (
	TypeChain    ir.ModuleType = "test.Chain"
	TypeParent   ir.ModuleType = "test.Parent"
	TypeBlock    ir.ModuleType = "test.Block"
	TypeResidual ir.ModuleType = "test.Residual"
	TypeBranchy  ir.ModuleType = "test.Branchy"
	TypeArith    ir.ModuleType = "test.Arith"
)

// Chain feeds its single input through children in registration order.
func Chain(typ ir.ModuleType, children ...nn.Child) *nn.Custom {
	m := nn.NewCustom(typ, func(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		x := args[0]
		for _, c := range self.Children() {
			var err error
			if x, err = b.CallModule(c.Module, x); err != nil {
				return nil, err
			}
		}
		return x, nil
	})
	for _, c := range children {
		m.With(c.Name, c.Module)
	}
	return m
}

// LinearReLU is fc (Linear 4->4) followed by relu.
func LinearReLU() *nn.Custom {
	return Chain(TypeChain,
		nn.Child{Name: "fc", Module: nn.NewLinear(4, 4)},
		nn.Child{Name: "relu", Module: nn.NewReLU()},
	)
}

// ConvBnReLU is conv, bn and relu in sequence.
func ConvBnReLU() *nn.Custom {
	return Chain(TypeChain,
		nn.Child{Name: "conv", Module: nn.NewConv2d(3, 8, 3)},
		nn.Child{Name: "bn", Module: nn.NewBatchNorm2d(8)},
		nn.Child{Name: "relu", Module: nn.NewReLU()},
	)
}

// WithUnit is fc, then the user module at "unit" (a Chain around a single
// Linear named "inner"), then relu. It is the usual host for a standalone unit.
func WithUnit() *nn.Custom {
	unit := Chain(TypeBlock, nn.Child{Name: "inner", Module: nn.NewLinear(4, 4)})
	return Chain(TypeParent,
		nn.Child{Name: "fc", Module: nn.NewLinear(4, 4)},
		nn.Child{Name: "unit", Module: unit},
		nn.Child{Name: "relu", Module: nn.NewReLU()},
	)
}

// NestedBlocks wraps a Linear in depth Blocks, each calling its child "inner".
// The outermost Block is returned.
func NestedBlocks(depth int) *nn.Custom {
	var inner nn.Module = nn.NewLinear(4, 4)
	var block *nn.Custom
	for i := 0; i < depth; i++ {
		block = Chain(TypeBlock, nn.Child{Name: "inner", Module: inner})
		inner = block
	}
	return block
}

// Residual computes add(relu(fc(x)), x).
func Residual() *nn.Custom {
	return nn.NewCustom(TypeResidual, func(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		h, err := self.Call(b, "fc", args[0])
		if err != nil {
			return nil, err
		}
		if h, err = self.Call(b, "relu", h); err != nil {
			return nil, err
		}
		return b.CallFunction("add", []ir.Arg{h, args[0]}, nil)
	}).With("fc", nn.NewLinear(4, 4)).With("relu", nn.NewReLU())
}

// Branchy decides control flow on its traced input, which cannot be traced.
func Branchy() *nn.Custom {
	return nn.NewCustom(TypeBranchy, func(_ *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		positive, err := b.Branch(args[0])
		if err != nil {
			return nil, err
		}
		if positive {
			return b.CallFunction("relu", args, nil)
		}
		return args[0], nil
	})
}

// Arith adds its input to itself through a FloatFunctional helper at "ff".
func Arith() *nn.Custom {
	return nn.NewCustom(TypeArith, func(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		f, err := self.Functional("ff")
		if err != nil {
			return nil, err
		}
		return f.Add(b, args[0], args[0])
	}).With("ff", nn.NewFloatFunctional())
}
