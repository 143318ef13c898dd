package passes

import (
	"fmt"
	"math"

	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/qconfig"
)

// Observer namespace and types.
const (
	NamespaceObserver                = "nn.observer"
	TypeMinMaxObserver ir.ModuleType = "nn.observer.MinMaxObserver"
)

// Observer records the range of the values flowing through it and derives
// affine quantization parameters from it.
type Observer struct {
	nn.Base
	DType qconfig.DType
	min   float64
	max   float64
	seen  bool
}

// NewObserver creates an observer targeting dtype.
func NewObserver(dtype qconfig.DType) *Observer {
	return &Observer{DType: dtype}
}

func (*Observer) Type() ir.ModuleType { return TypeMinMaxObserver }
func (*Observer) Namespace() string   { return NamespaceObserver }

func (o *Observer) Forward(b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("observer takes 1 input, got %d", len(args))
	}
	return b.CallFunction("observe", args, ir.IRObject{"dtype": ir.IRString(o.DType)})
}

// Observe widens the recorded range. NaN values are ignored.
func (o *Observer) Observe(values ...float64) {
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if !o.seen {
			o.min, o.max, o.seen = v, v, true
			continue
		}
		o.min = math.Min(o.min, v)
		o.max = math.Max(o.max, v)
	}
}

// Range returns the observed range and whether anything was observed.
func (o *Observer) Range() (lo, hi float64, ok bool) {
	return o.min, o.max, o.seen
}

// QParams returns scale and zero point for the observed range. The range
// always includes zero. An observer that saw nothing returns (1, 0).
func (o *Observer) QParams() (scale float64, zeroPoint int64) {
	qmin, qmax := o.DType.Range()
	if !o.seen || qmin == qmax {
		return 1.0, 0
	}
	lo := math.Min(o.min, 0)
	hi := math.Max(o.max, 0)
	scale = (hi - lo) / float64(qmax-qmin)
	if scale <= math.SmallestNonzeroFloat32 {
		scale = math.SmallestNonzeroFloat32
	}
	zp := float64(qmin) - math.Round(lo/scale)
	zp = math.Max(float64(qmin), math.Min(float64(qmax), zp))
	return scale, int64(zp)
}

// ObservedCustom is the observed form of a float custom module listed in
// a prepare config's FloatToObserved mapping.
type ObservedCustom struct {
	nn.Base
	typ   ir.ModuleType
	Float nn.Module
}

// NewObservedCustom wraps float as an observed module of type typ.
func NewObservedCustom(typ ir.ModuleType, float nn.Module) *ObservedCustom {
	return &ObservedCustom{typ: typ, Float: float}
}

func (o *ObservedCustom) Type() ir.ModuleType { return o.typ }
func (*ObservedCustom) Namespace() string     { return NamespaceObserver }

func (o *ObservedCustom) Forward(b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
	return o.Float.Forward(b, args...)
}

// numeric extracts calibration values from an example input.
func numeric(v any) []float64 {
	switch val := v.(type) {
	case float64:
		return []float64{val}
	case float32:
		return []float64{float64(val)}
	case int:
		return []float64{float64(val)}
	case []float64:
		return val
	case []any:
		var out []float64
		for _, e := range val {
			out = append(out, numeric(e)...)
		}
		return out
	case interface{ Values() []float64 }:
		return val.Values()
	default:
		return nil
	}
}
