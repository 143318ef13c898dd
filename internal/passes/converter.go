package passes

import (
	"fmt"
	"log/slog"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/qconfig"
)

// Function and method targets emitted by conversion.
const (
	FnQuantize   = "quantize_per_tensor"
	FnDequantize = "dequantize"
	MethodTo     = "to"
)

// ReferenceConverter lowers observers and swaps modules.
//
// Every integer observer becomes a quantize_per_tensor call carrying the
// observed scale and zero point; float16 observers become casts. In
// reference mode each quantize is immediately followed by a dequantize
// and modules stay in floating point. Otherwise policied modules with a
// backend counterpart are swapped for quantized modules that absorb their
// output quantize, and a dequantize is inserted wherever a quantized value
// reaches a consumer that expects floating point.
type ReferenceConverter struct {
	logger *slog.Logger
}

// NewReferenceConverter creates a ReferenceConverter.
func NewReferenceConverter(logger *slog.Logger) *ReferenceConverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferenceConverter{logger: logger}
}

func (*ReferenceConverter) Name() string { return "reference" }

type convertState struct {
	gm  *fx.GraphModule
	req ConvertRequest

	// quantized holds nodes whose output is a quantized value.
	quantized map[*ir.Node]bool
	// acceptsQuantized holds swapped module nodes, which read quantized input.
	acceptsQuantized map[*ir.Node]bool
	// refDequant maps a reference-mode dequantize to its quantize.
	refDequant map[*ir.Node]*ir.Node
	dequant    map[*ir.Node]*ir.Node
}

// Convert lowers req.Module in place and returns it.
func (c *ReferenceConverter) Convert(req ConvertRequest) (*fx.GraphModule, error) {
	gm := req.Module
	if gm == nil {
		return nil, fmt.Errorf("convert: nil graph module")
	}
	if req.Backend == nil {
		req.Backend = config.DefaultBackend()
	}
	if req.Config == nil {
		req.Config = &config.ConvertConfig{}
	}
	s := &convertState{
		gm:               gm,
		req:              req,
		quantized:        map[*ir.Node]bool{},
		acceptsQuantized: map[*ir.Node]bool{},
		refDequant:       map[*ir.Node]*ir.Node{},
		dequant:          map[*ir.Node]*ir.Node{},
	}

	if req.IsStandalone {
		inputs := gm.Graph.Inputs()
		for _, i := range gm.InputQuantizedIndices {
			if i >= 0 && i < len(inputs) {
				s.quantized[inputs[i]] = true
			}
		}
	}

	lowered := 0
	for _, n := range gm.Graph.Nodes() {
		if n.Kind != ir.KindCallModule {
			continue
		}
		m, _ := gm.Module(n.Target)
		obs, ok := m.(*Observer)
		if !ok {
			continue
		}
		if err := s.lowerObserver(n, obs); err != nil {
			return nil, err
		}
		lowered++
	}

	swapped := 0
	for _, n := range gm.Graph.Nodes() {
		if unit, ok := standaloneAt(gm, n); ok {
			if containsInt(unit.OutputQuantizedIndices, 0) {
				s.quantized[n] = true
			}
			continue
		}
		if req.IsReference {
			continue
		}
		ok, err := s.swapModule(n)
		if err != nil {
			return nil, err
		}
		if ok {
			swapped++
		}
	}

	if err := s.fixBoundaries(); err != nil {
		return nil, err
	}
	for dq := range s.refDequant {
		if len(gm.Graph.Users(dq)) == 0 {
			if err := gm.Graph.Erase(dq); err != nil {
				return nil, err
			}
		}
	}

	if req.RemoveQuantMetadata {
		RemoveQuantMetadata(gm.Graph)
	}
	if err := gm.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("convert produced an invalid graph: %w", err)
	}
	c.logger.Debug("converted graph",
		"observers", lowered,
		"swapped_modules", swapped,
		"reference", req.IsReference,
		"standalone", req.IsStandalone)
	return gm, nil
}

func (s *convertState) lowerObserver(n *ir.Node, obs *Observer) error {
	g := s.gm.Graph
	x := n.Args[0]

	var (
		head, tail *ir.Node
		err        error
	)
	switch {
	case obs.DType.IsQuantized():
		scale, zp := obs.QParams()
		head, err = g.InsertAfter(n, ir.NodeSpec{
			Kind:     ir.KindCallFunction,
			Target:   FnQuantize,
			Args:     []ir.Arg{x, ir.IRFloat(scale), ir.IRInt(zp), ir.IRString(obs.DType)},
			TypeHint: n.TypeHint,
		})
		if err != nil {
			return err
		}
		s.quantized[head] = true
		tail = head
		if s.req.IsReference {
			tail, err = g.InsertAfter(head, ir.NodeSpec{
				Kind:     ir.KindCallFunction,
				Target:   FnDequantize,
				Args:     []ir.Arg{head},
				TypeHint: n.TypeHint,
			})
			if err != nil {
				return err
			}
			s.refDequant[tail] = head
		}
	case obs.DType == qconfig.Float16:
		head, err = g.InsertAfter(n, ir.NodeSpec{
			Kind:     ir.KindCallMethod,
			Target:   MethodTo,
			Args:     []ir.Arg{x, ir.IRString(qconfig.Float16)},
			TypeHint: n.TypeHint,
		})
		if err != nil {
			return err
		}
		tail = head
		if s.req.IsReference {
			tail, err = g.InsertAfter(head, ir.NodeSpec{
				Kind:     ir.KindCallMethod,
				Target:   MethodTo,
				Args:     []ir.Arg{head, ir.IRString(qconfig.Float32)},
				TypeHint: n.TypeHint,
			})
			if err != nil {
				return err
			}
		}
	default:
		src, ok := x.(*ir.Node)
		if !ok {
			return fmt.Errorf("observer %q does not read a graph value", n.Name)
		}
		tail = src
	}

	if err := g.ReplaceAllUses(n, tail); err != nil {
		return err
	}
	if err := g.Erase(n); err != nil {
		return err
	}
	s.gm.DeleteModule(n.Target)
	return nil
}

// quantizedType picks the module that replaces m, if any.
func (s *convertState) quantizedType(n *ir.Node, m nn.Module) (ir.ModuleType, bool) {
	if _, ok := m.(*ObservedCustom); ok {
		t, ok := s.req.Config.ObservedToQuantized[m.Type()]
		return t, ok
	}
	if _, ok := n.Meta[MetaPolicy]; !ok {
		return "", false
	}
	return s.req.Backend.QuantizedType(m.Type())
}

// swapModule replaces a policied module with its quantized counterpart.
// Static modules fold their output quantize into the new module; dynamic
// ones keep floating point input and output.
func (s *convertState) swapModule(n *ir.Node) (bool, error) {
	if n.Kind != ir.KindCallModule {
		return false, nil
	}
	m, ok := s.gm.Module(n.Target)
	if !ok {
		return false, nil
	}
	qtype, ok := s.quantizedType(n, m)
	if !ok {
		return false, nil
	}
	float := m
	if oc, ok := m.(*ObservedCustom); ok {
		float = oc.Float
	}

	if _, dynamic := n.Meta[MetaDynamic]; dynamic {
		dtype := qconfig.QUInt8
		if d, ok := ir.AsString(n.Meta[MetaDType]); ok {
			dtype = qconfig.DType(d)
		}
		qtype = ir.ModuleType(nn.NamespaceQuantized + ".dynamic." + nn.ShortName(qtype))
		s.gm.SetModule(n.Target, nn.NewQuantized(qtype, float, 1.0, 0, string(dtype)))
		return true, nil
	}

	q := s.outputQuantize(n)
	if q == nil {
		if float != m {
			// Observed custom modules are swapped even when nothing
			// around them is quantized.
			s.gm.SetModule(n.Target, nn.NewQuantized(qtype, float, 1.0, 0, string(qconfig.Float32)))
			return true, nil
		}
		return false, nil
	}
	for _, in := range n.Inputs() {
		if !s.quantized[in] {
			return false, nil
		}
	}
	scale, _ := ir.AsFloat(q.Args[1])
	zp, _ := q.Args[2].(ir.IRInt)
	dtype, _ := ir.AsString(q.Args[3])

	s.gm.SetModule(n.Target, nn.NewQuantized(qtype, float, scale, int64(zp), dtype))
	if err := s.gm.Graph.ReplaceAllUses(q, n); err != nil {
		return false, err
	}
	if err := s.gm.Graph.Erase(q); err != nil {
		return false, err
	}
	delete(s.quantized, q)
	s.quantized[n] = true
	s.acceptsQuantized[n] = true
	return true, nil
}

// outputQuantize returns the quantize that is the only user of n, or nil.
func (s *convertState) outputQuantize(n *ir.Node) *ir.Node {
	users := s.gm.Graph.Users(n)
	if len(users) != 1 {
		return nil
	}
	q := users[0]
	if q.Kind != ir.KindCallFunction || q.Target != FnQuantize || q.Args[0] != ir.Arg(n) {
		return nil
	}
	return q
}

// accepts reports whether argument position pos of consumer reads a
// quantized value.
func (s *convertState) accepts(consumer *ir.Node, pos int) bool {
	switch {
	case consumer.Kind == ir.KindOutput:
		return s.req.IsStandalone && containsInt(s.gm.OutputQuantizedIndices, pos)
	case consumer.Kind == ir.KindCallFunction && consumer.Target == FnDequantize:
		return true
	case s.acceptsQuantized[consumer]:
		return true
	}
	if unit, ok := standaloneAt(s.gm, consumer); ok {
		return containsInt(unit.InputQuantizedIndices, pos)
	}
	return false
}

// dequantizeOf returns the shared dequantize of a quantized value.
func (s *convertState) dequantizeOf(v *ir.Node) (*ir.Node, error) {
	if dq, ok := s.dequant[v]; ok {
		return dq, nil
	}
	dq, err := s.gm.Graph.InsertAfter(v, ir.NodeSpec{
		Kind:     ir.KindCallFunction,
		Target:   FnDequantize,
		Args:     []ir.Arg{v},
		TypeHint: v.TypeHint,
	})
	if err != nil {
		return nil, err
	}
	s.dequant[v] = dq
	return dq, nil
}

// fixBoundaries rewires every edge whose producer and consumer disagree
// about quantization: quantized values reaching float consumers get a
// dequantize, and quantized positions read the quantize behind a
// reference-mode dequantize.
func (s *convertState) fixBoundaries() error {
	for _, consumer := range s.gm.Graph.Nodes() {
		if s.refDequant[consumer] != nil {
			continue
		}
		var firstErr error
		fix := func(a ir.Arg, accepts bool) ir.Arg {
			return ir.MapNodes(a, func(p *ir.Node) ir.Arg {
				if accepts {
					if q, ok := s.refDequant[p]; ok {
						return q
					}
					return p
				}
				if !s.quantized[p] {
					return p
				}
				dq, err := s.dequantizeOf(p)
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if err != nil {
					return p
				}
				return dq
			})
		}

		args := make([]ir.Arg, len(consumer.Args))
		for i, a := range consumer.Args {
			if consumer.Kind == ir.KindOutput && i == 0 {
				args[i] = s.fixOutput(a, fix)
				continue
			}
			args[i] = fix(a, s.accepts(consumer, i))
		}
		var kwargs ir.IRObject
		if consumer.Kwargs != nil {
			kwargs = fix(consumer.Kwargs, false).(ir.IRObject)
		}
		if firstErr != nil {
			return firstErr
		}
		if err := s.gm.Graph.SetArgs(consumer, args, kwargs); err != nil {
			return err
		}
	}
	return nil
}

// fixOutput applies fix per output element so each index is judged alone.
func (s *convertState) fixOutput(a ir.Arg, fix func(ir.Arg, bool) ir.Arg) ir.Arg {
	out := s.gm.Graph.Output()
	elems, ok := a.(ir.IRArray)
	if !ok {
		return fix(a, s.accepts(out, 0))
	}
	fixed := make(ir.IRArray, len(elems))
	for i, e := range elems {
		fixed[i] = fix(e, s.accepts(out, i))
	}
	return fixed
}

var _ Converter = (*ReferenceConverter)(nil)
