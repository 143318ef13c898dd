package nn

import (
	"fmt"

	"github.com/roach88/fxq/internal/ir"
)

// Primitive module types.
var (
	TypeLinear      = typeOf(NamespaceNN, "Linear")
	TypeConv2d      = typeOf(NamespaceNN, "Conv2d")
	TypeBatchNorm2d = typeOf(NamespaceNN, "BatchNorm2d")
	TypeReLU        = typeOf(NamespaceNN, "ReLU")
	TypeIdentity    = typeOf(NamespaceNN, "Identity")
	TypeDropout     = typeOf(NamespaceNN, "Dropout")
	TypeSequential  = typeOf(NamespaceNN, "Sequential")
)

// Linear applies y = xW^T + b.
type Linear struct {
	Base
	InFeatures  int
	OutFeatures int
	HasBias     bool
}

// NewLinear creates a Linear layer with bias.
func NewLinear(in, out int) *Linear {
	return &Linear{InFeatures: in, OutFeatures: out, HasBias: true}
}

func (*Linear) Type() ir.ModuleType { return TypeLinear }
func (*Linear) Namespace() string   { return NamespaceNN }

func (l *Linear) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(TypeLinear, args)
	if err != nil {
		return nil, err
	}
	w, err := b.GetAttr(l, "weight")
	if err != nil {
		return nil, err
	}
	var bias ir.Arg = ir.IRNull{}
	if l.HasBias {
		if bias, err = b.GetAttr(l, "bias"); err != nil {
			return nil, err
		}
	}
	return b.CallFunction("linear", []ir.Arg{x, w, bias}, nil)
}

// Conv2d is a 2-D convolution.
type Conv2d struct {
	Base
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
}

// NewConv2d creates a Conv2d with stride 1 and no padding.
func NewConv2d(in, out, kernel int) *Conv2d {
	return &Conv2d{InChannels: in, OutChannels: out, KernelSize: kernel, Stride: 1}
}

func (*Conv2d) Type() ir.ModuleType { return TypeConv2d }
func (*Conv2d) Namespace() string   { return NamespaceNN }

func (c *Conv2d) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(TypeConv2d, args)
	if err != nil {
		return nil, err
	}
	w, err := b.GetAttr(c, "weight")
	if err != nil {
		return nil, err
	}
	bias, err := b.GetAttr(c, "bias")
	if err != nil {
		return nil, err
	}
	return b.CallFunction("conv2d", []ir.Arg{x, w, bias}, ir.IRObject{
		"stride":  ir.IRInt(c.Stride),
		"padding": ir.IRInt(c.Padding),
	})
}

// BatchNorm2d normalizes over the channel dimension.
type BatchNorm2d struct {
	Base
	NumFeatures int
}

// NewBatchNorm2d creates a BatchNorm2d.
func NewBatchNorm2d(features int) *BatchNorm2d {
	return &BatchNorm2d{NumFeatures: features}
}

func (*BatchNorm2d) Type() ir.ModuleType { return TypeBatchNorm2d }
func (*BatchNorm2d) Namespace() string   { return NamespaceNN }

func (bn *BatchNorm2d) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(TypeBatchNorm2d, args)
	if err != nil {
		return nil, err
	}
	mean, err := b.GetAttr(bn, "running_mean")
	if err != nil {
		return nil, err
	}
	variance, err := b.GetAttr(bn, "running_var")
	if err != nil {
		return nil, err
	}
	return b.CallFunction("batch_norm", []ir.Arg{x, mean, variance}, nil)
}

// ReLU applies max(0, x).
type ReLU struct{ Base }

// NewReLU creates a ReLU.
func NewReLU() *ReLU { return &ReLU{} }

func (*ReLU) Type() ir.ModuleType { return TypeReLU }
func (*ReLU) Namespace() string   { return NamespaceNN }

func (*ReLU) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(TypeReLU, args)
	if err != nil {
		return nil, err
	}
	return b.CallFunction("relu", []ir.Arg{x}, nil)
}

// Identity returns its input.
type Identity struct{ Base }

// NewIdentity creates an Identity.
func NewIdentity() *Identity { return &Identity{} }

func (*Identity) Type() ir.ModuleType { return TypeIdentity }
func (*Identity) Namespace() string   { return NamespaceNN }

func (*Identity) Forward(_ Builder, args ...ir.Arg) (ir.Arg, error) {
	return one(TypeIdentity, args)
}

// Dropout zeroes elements with probability P during training.
type Dropout struct {
	Base
	P float64
}

// NewDropout creates a Dropout.
func NewDropout(p float64) *Dropout { return &Dropout{P: p} }

func (*Dropout) Type() ir.ModuleType { return TypeDropout }
func (*Dropout) Namespace() string   { return NamespaceNN }

func (d *Dropout) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(TypeDropout, args)
	if err != nil {
		return nil, err
	}
	return b.CallFunction("dropout", []ir.Arg{x}, ir.IRObject{"p": ir.IRFloat(d.P)})
}

// Sequential chains its children, feeding each output to the next.
// It lives in the primitive namespace but is always traced through.
type Sequential struct{ Base }

// NewSequential creates a Sequential whose children are named "0", "1", ...
func NewSequential(mods ...Module) *Sequential {
	s := &Sequential{}
	for i, m := range mods {
		s.AddChild(fmt.Sprintf("%d", i), m)
	}
	return s
}

func (*Sequential) Type() ir.ModuleType { return TypeSequential }
func (*Sequential) Namespace() string   { return NamespaceNN }

func (s *Sequential) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(TypeSequential, args)
	if err != nil {
		return nil, err
	}
	return chain(b, s.children, x)
}

// chain feeds x through each child in order.
func chain(b Builder, children []Child, x ir.Arg) (ir.Arg, error) {
	for _, c := range children {
		out, err := b.CallModule(c.Module, x)
		if err != nil {
			return nil, err
		}
		x = out
	}
	return x, nil
}
