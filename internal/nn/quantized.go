package nn

import (
	"fmt"

	"github.com/roach88/fxq/internal/ir"
)

// Quantized-namespace module types.
var (
	TypeFloatFunctional   = typeOf(NamespaceQuantized, "FloatFunctional")
	TypeFXFloatFunctional = typeOf(NamespaceQuantized, "FXFloatFunctional")
)

// Functional is the tensor arithmetic a model performs through a
// FloatFunctional-style helper module instead of free functions.
type Functional interface {
	Module
	Add(b Builder, x, y ir.Arg) (ir.Arg, error)
	Mul(b Builder, x, y ir.Arg) (ir.Arg, error)
	Cat(b Builder, xs []ir.Arg, dim int) (ir.Arg, error)
}

// FloatFunctional carries an activation post-process hook after each
// arithmetic op so eager-mode quantization can observe it. Tracing it
// records the hook as a separate module call.
type FloatFunctional struct{ Base }

// NewFloatFunctional creates a FloatFunctional with an identity hook.
func NewFloatFunctional() *FloatFunctional {
	f := &FloatFunctional{}
	f.AddChild("activation_post_process", NewIdentity())
	return f
}

func (*FloatFunctional) Type() ir.ModuleType { return TypeFloatFunctional }
func (*FloatFunctional) Namespace() string   { return NamespaceQuantized }

func (*FloatFunctional) Forward(Builder, ...ir.Arg) (ir.Arg, error) {
	return nil, fmt.Errorf("FloatFunctional is not meant to be called; use Add, Mul or Cat")
}

func (f *FloatFunctional) post(b Builder, r ir.Arg) (ir.Arg, error) {
	hook, ok := f.Child("activation_post_process")
	if !ok {
		return r, nil
	}
	return b.CallModule(hook, r)
}

func (f *FloatFunctional) Add(b Builder, x, y ir.Arg) (ir.Arg, error) {
	r, err := b.CallFunction("add", []ir.Arg{x, y}, nil)
	if err != nil {
		return nil, err
	}
	return f.post(b, r)
}

func (f *FloatFunctional) Mul(b Builder, x, y ir.Arg) (ir.Arg, error) {
	r, err := b.CallFunction("mul", []ir.Arg{x, y}, nil)
	if err != nil {
		return nil, err
	}
	return f.post(b, r)
}

func (f *FloatFunctional) Cat(b Builder, xs []ir.Arg, dim int) (ir.Arg, error) {
	r, err := b.CallFunction("cat", []ir.Arg{ir.IRArray(xs)}, ir.IRObject{"dim": ir.IRInt(dim)})
	if err != nil {
		return nil, err
	}
	return f.post(b, r)
}

// FXFloatFunctional is the graph-mode replacement for FloatFunctional:
// arithmetic lowers to plain function calls with no hook.
type FXFloatFunctional struct{ Base }

// NewFXFloatFunctional creates an FXFloatFunctional.
func NewFXFloatFunctional() *FXFloatFunctional { return &FXFloatFunctional{} }

func (*FXFloatFunctional) Type() ir.ModuleType { return TypeFXFloatFunctional }
func (*FXFloatFunctional) Namespace() string   { return NamespaceQuantized }

func (*FXFloatFunctional) Forward(Builder, ...ir.Arg) (ir.Arg, error) {
	return nil, fmt.Errorf("FXFloatFunctional is not meant to be called; use Add, Mul or Cat")
}

func (*FXFloatFunctional) Add(b Builder, x, y ir.Arg) (ir.Arg, error) {
	return b.CallFunction("add", []ir.Arg{x, y}, nil)
}

func (*FXFloatFunctional) Mul(b Builder, x, y ir.Arg) (ir.Arg, error) {
	return b.CallFunction("mul", []ir.Arg{x, y}, nil)
}

func (*FXFloatFunctional) Cat(b Builder, xs []ir.Arg, dim int) (ir.Arg, error) {
	return b.CallFunction("cat", []ir.Arg{ir.IRArray(xs)}, ir.IRObject{"dim": ir.IRInt(dim)})
}

// QuantizedModule is the converted counterpart of a float module: it
// carries the float module plus the output quantization parameters.
type QuantizedModule struct {
	Base
	typ       ir.ModuleType
	Float     Module
	Scale     float64
	ZeroPoint int64
	DType     string
}

// NewQuantized wraps float as a quantized module of type typ.
func NewQuantized(typ ir.ModuleType, float Module, scale float64, zeroPoint int64, dtype string) *QuantizedModule {
	return &QuantizedModule{typ: typ, Float: float, Scale: scale, ZeroPoint: zeroPoint, DType: dtype}
}

// QuantizedTypeFor names the default quantized counterpart of a float type
// ("nn.Linear" -> "nn.quantized.Linear").
func QuantizedTypeFor(float ir.ModuleType) ir.ModuleType {
	return typeOf(NamespaceQuantized, ShortName(float))
}

func (q *QuantizedModule) Type() ir.ModuleType { return q.typ }
func (*QuantizedModule) Namespace() string     { return NamespaceQuantized }

func (q *QuantizedModule) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	x, err := one(q.typ, args)
	if err != nil {
		return nil, err
	}
	return b.CallFunction("quantized."+ShortName(q.typ), []ir.Arg{x}, ir.IRObject{
		"scale":      ir.IRFloat(q.Scale),
		"zero_point": ir.IRInt(q.ZeroPoint),
	})
}
