package passes

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/qconfig"
)

// ObserverPathPrefix prefixes the module table paths of inserted observers.
const ObserverPathPrefix = "activation_post_process_"

// shapeOps pass values through without changing their range. They share
// the quantization parameters of their input and get no observer.
var shapeOps = map[string]bool{
	"flatten":    true,
	"view":       true,
	"reshape":    true,
	"transpose":  true,
	"permute":    true,
	"contiguous": true,
	"squeeze":    true,
	"unsqueeze":  true,
	"size":       true,
	"getitem":    true,
	"dropout":    true,
	"to":         true,
	"detach":     true,
	"identity":   true,
}

// ObserverPreparer resolves a policy for every call node and inserts
// observers on the values that will be quantized: the output of each
// quantized operation and any unobserved input feeding one.
//
// Standalone units already compiled into the graph are not observed from
// the inside. Their quantized input positions get an observer on the
// parent side, and a quantized output counts as already observed.
type ObserverPreparer struct {
	logger *slog.Logger
}

// NewObserverPreparer creates an ObserverPreparer.
func NewObserverPreparer(logger *slog.Logger) *ObserverPreparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObserverPreparer{logger: logger}
}

func (*ObserverPreparer) Name() string { return "observer" }

type occurrence struct {
	path string
	typ  string
}

type prepareState struct {
	gm  *fx.GraphModule
	req PrepareRequest

	// observed maps a value to the node consumers should read instead: an
	// observer, or the value itself when it is already quantized.
	observed  map[*ir.Node]*ir.Node
	observers map[*ir.Node]bool
	counts    map[occurrence]int
	nextObs   int
}

// Prepare annotates and observes req.Module in place and returns it.
func (p *ObserverPreparer) Prepare(req PrepareRequest) (*fx.GraphModule, error) {
	gm := req.Module
	if gm == nil {
		return nil, fmt.Errorf("prepare: nil graph module")
	}
	if req.Config == nil {
		req.Config = &config.PrepareConfig{}
	}
	s := &prepareState{
		gm:        gm,
		req:       req,
		observed:  map[*ir.Node]*ir.Node{},
		observers: map[*ir.Node]bool{},
		counts:    map[occurrence]int{},
	}

	if err := s.swapCustomModules(); err != nil {
		return nil, err
	}

	inputs := gm.Graph.Inputs()
	if req.IsStandalone {
		for _, i := range req.Config.InputQuantizedIndices {
			if i < 0 || i >= len(inputs) {
				return nil, fmt.Errorf("prepare: input_quantized_idxs %d out of range (%d inputs)", i, len(inputs))
			}
			inputs[i].SetMeta(MetaQuantizedInput, ir.IRBool(true))
			s.observed[inputs[i]] = inputs[i]
		}
	}

	quantized := 0
	for _, n := range gm.Graph.Nodes() {
		if !n.Kind.IsCall() || s.observers[n] {
			continue
		}
		if unit, ok := standaloneAt(gm, n); ok {
			if err := s.observeStandaloneCall(n, unit); err != nil {
				return nil, err
			}
			continue
		}
		q := s.query(n)
		if eq := req.Equalization; eq != nil && eq.Resolve(q) != nil {
			n.SetMeta(MetaEqualization, ir.IRBool(true))
		}
		var policy *qconfig.Policy
		if req.Policy != nil {
			policy = req.Policy.Resolve(q)
		}
		if !policy.Quantizes() || (n.Kind != ir.KindCallModule && shapeOps[n.Target]) {
			continue
		}
		name := policy.Name
		if name == "" {
			name = "custom"
		}
		n.SetMeta(MetaPolicy, ir.IRString(name))
		n.SetMeta(MetaDType, ir.IRString(policy.Activation))
		quantized++
		if policy.Dynamic {
			n.SetMeta(MetaDynamic, ir.IRBool(true))
			continue
		}
		if err := s.observeInputs(n, policy.Activation); err != nil {
			return nil, err
		}
		if _, err := s.observeOutput(n, policy.Activation); err != nil {
			return nil, err
		}
	}

	if req.IsStandalone && len(req.Config.OutputQuantizedIndices) > 0 {
		if err := s.observeGraphOutputs(); err != nil {
			return nil, err
		}
	}
	s.observeExampleInputs(inputs)

	if err := gm.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("prepare produced an invalid graph: %w", err)
	}
	p.logger.Debug("inserted observers",
		"quantized_ops", quantized,
		"observers", len(s.observers),
		"standalone", req.IsStandalone,
		"qat", req.IsQAT)
	return gm, nil
}

// query builds the policy query for a call node. Module calls are matched
// by their own path and type; other calls by the scope they were traced in.
func (s *prepareState) query(n *ir.Node) qconfig.Query {
	var q qconfig.Query
	if n.Kind == ir.KindCallModule {
		q.ModulePath = n.Target
		if m, ok := s.gm.Module(n.Target); ok {
			q.ModuleType = m.Type()
			q.ObjectType = string(m.Type())
		}
	} else {
		scope := ir.RootScope
		if s.req.Scopes != nil {
			if sc, ok := s.req.Scopes.Lookup(n.Name); ok {
				scope = sc
			}
		}
		q.ModulePath = scope.Path
		q.ModuleType = scope.Type
		q.ObjectType = n.Target
	}
	key := occurrence{q.ModulePath, q.ObjectType}
	q.Index = s.counts[key]
	s.counts[key]++
	return q
}

// swapCustomModules replaces float custom modules with their observed form.
func (s *prepareState) swapCustomModules() error {
	if len(s.req.Config.FloatToObserved) == 0 {
		return nil
	}
	for _, path := range s.gm.ModulePaths() {
		m, _ := s.gm.Module(path)
		observed, ok := s.req.Config.FloatToObserved[m.Type()]
		if !ok {
			continue
		}
		s.gm.SetModule(path, NewObservedCustom(observed, m))
	}
	return nil
}

func (s *prepareState) newObserver(after *ir.Node, dtype qconfig.DType) (*ir.Node, error) {
	path := ObserverPathPrefix + strconv.Itoa(s.nextObs)
	for {
		if _, taken := s.gm.Module(path); !taken {
			break
		}
		s.nextObs++
		path = ObserverPathPrefix + strconv.Itoa(s.nextObs)
	}
	s.nextObs++
	s.gm.SetModule(path, NewObserver(dtype))
	obs, err := s.gm.Graph.InsertAfter(after, ir.NodeSpec{
		Kind:     ir.KindCallModule,
		Target:   path,
		Args:     []ir.Arg{after},
		TypeHint: after.TypeHint,
	})
	if err != nil {
		return nil, err
	}
	s.observers[obs] = true
	s.observed[obs] = obs
	return obs, nil
}

// observedValue returns the node consumers of v should read, inserting an
// observer after v when it has none yet. Constants are never observed.
func (s *prepareState) observedValue(v *ir.Node, dtype qconfig.DType) (*ir.Node, error) {
	if v.Kind == ir.KindConstant {
		return v, nil
	}
	if obs, ok := s.observed[v]; ok {
		return obs, nil
	}
	obs, err := s.newObserver(v, dtype)
	if err != nil {
		return nil, err
	}
	s.observed[v] = obs
	return obs, nil
}

func (s *prepareState) observeInputs(n *ir.Node, dtype qconfig.DType) error {
	seen := map[*ir.Node]bool{}
	for _, in := range n.Inputs() {
		if seen[in] {
			continue
		}
		seen[in] = true
		obs, err := s.observedValue(in, dtype)
		if err != nil {
			return err
		}
		if obs != in {
			if err := s.gm.Graph.ReplaceUse(n, in, obs); err != nil {
				return err
			}
		}
	}
	return nil
}

// observeOutput inserts an observer after n and routes every user of n
// through it.
func (s *prepareState) observeOutput(n *ir.Node, dtype qconfig.DType) (*ir.Node, error) {
	if obs, ok := s.observed[n]; ok {
		return obs, nil
	}
	obs, err := s.newObserver(n, dtype)
	if err != nil {
		return nil, err
	}
	if err := s.gm.Graph.ReplaceAllUses(n, obs, obs); err != nil {
		return nil, err
	}
	s.observed[n] = obs
	return obs, nil
}

func (s *prepareState) observeStandaloneCall(n *ir.Node, unit *fx.GraphModule) error {
	n.SetMeta(MetaStandalone, ir.IRBool(true))
	n.SetMeta(MetaInputQuantized, indexArray(unit.InputQuantizedIndices))
	n.SetMeta(MetaOutputQuantized, indexArray(unit.OutputQuantizedIndices))

	args := append([]ir.Arg(nil), n.Args...)
	changed := false
	for _, idx := range unit.InputQuantizedIndices {
		if idx < 0 || idx >= len(args) {
			return fmt.Errorf("standalone unit %q: input_quantized_idxs %d out of range (%d args)", n.Target, idx, len(args))
		}
		var err error
		args[idx] = ir.MapNodes(args[idx], func(v *ir.Node) ir.Arg {
			if err != nil {
				return v
			}
			var obs *ir.Node
			obs, err = s.observedValue(v, qconfig.Default.Activation)
			if obs != v {
				changed = true
			}
			return obs
		})
		if err != nil {
			return err
		}
	}
	if changed {
		if err := s.gm.Graph.SetArgs(n, args, n.Kwargs); err != nil {
			return err
		}
	}
	if containsInt(unit.OutputQuantizedIndices, 0) {
		s.observed[n] = n
	}
	return nil
}

// observeGraphOutputs makes sure the outputs a standalone unit promises
// quantized are observed.
func (s *prepareState) observeGraphOutputs() error {
	out := s.gm.Graph.Output()
	if out == nil || len(out.Args) == 0 {
		return fmt.Errorf("prepare: graph has no output value")
	}
	elems, tuple := out.Args[0].(ir.IRArray)
	if !tuple {
		elems = ir.IRArray{out.Args[0]}
	}
	elems = append(ir.IRArray(nil), elems...)
	for _, idx := range s.req.Config.OutputQuantizedIndices {
		if idx < 0 || idx >= len(elems) {
			return fmt.Errorf("prepare: output_quantized_idxs %d out of range (%d outputs)", idx, len(elems))
		}
		var err error
		elems[idx] = ir.MapNodes(elems[idx], func(v *ir.Node) ir.Arg {
			if err != nil {
				return v
			}
			var obs *ir.Node
			obs, err = s.observedValue(v, qconfig.Default.Activation)
			return obs
		})
		if err != nil {
			return err
		}
	}
	var value ir.Arg = elems
	if !tuple {
		value = elems[0]
	}
	out.SetMeta(MetaOutputQuantized, indexArray(s.req.Config.OutputQuantizedIndices))
	return s.gm.Graph.SetArgs(out, []ir.Arg{value}, out.Kwargs)
}

// observeExampleInputs calibrates input observers with numeric example inputs.
func (s *prepareState) observeExampleInputs(inputs []*ir.Node) {
	for i, in := range inputs {
		if i >= len(s.req.ExampleInputs) {
			return
		}
		obsNode, ok := s.observed[in]
		if !ok || obsNode == in {
			continue
		}
		m, _ := s.gm.Module(obsNode.Target)
		if obs, ok := m.(*Observer); ok {
			obs.Observe(numeric(s.req.ExampleInputs[i])...)
		}
	}
}

var _ Preparer = (*ObserverPreparer)(nil)
