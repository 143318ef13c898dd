package fx

import (
	"fmt"
	"sort"

	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

// Namespace and type of GraphModule.
const (
	Namespace                     = "fx"
	TypeGraphModule ir.ModuleType = "fx.GraphModule"
)

// GraphModule is a traced program together with the modules its
// call_module nodes invoke. It is what pipeline stages hand to each other.
//
// GraphModule is itself an nn.Module, so a compiled standalone unit can be
// installed in its parent's module table in place of the original
// sub-module.
type GraphModule struct {
	// Graph is the program. The stage holding the GraphModule owns it.
	Graph *ir.Graph

	// Scopes is the node-to-scope map recorded at trace time. Read-only.
	Scopes *ir.ScopeMap

	// RootType is the type of the module that was traced.
	RootType ir.ModuleType

	// UnitID identifies the compilation unit in a compilation log. Empty
	// when nothing is recorded.
	UnitID string

	// IsQAT marks a graph prepared for quantization-aware training.
	IsQAT bool

	// Standalone marks a graph compiled as a standalone unit.
	Standalone bool

	// InputQuantizedIndices lists the positional inputs a standalone unit
	// expects already quantized.
	InputQuantizedIndices []int

	// OutputQuantizedIndices lists the outputs a standalone unit produces
	// quantized.
	OutputQuantizedIndices []int

	modules map[string]nn.Module
	attrs   nn.Base
	stage   Stage
}

// New wraps a freshly traced graph. The module table maps every
// call_module target to the module it invokes.
func New(rootType ir.ModuleType, g *ir.Graph, scopes *ir.ScopeMap, modules map[string]nn.Module) *GraphModule {
	table := make(map[string]nn.Module, len(modules))
	for path, m := range modules {
		table[path] = m
	}
	return &GraphModule{
		Graph:    g,
		Scopes:   scopes,
		RootType: rootType,
		modules:  table,
		stage:    StageTraced,
	}
}

func (*GraphModule) Type() ir.ModuleType { return TypeGraphModule }
func (*GraphModule) Namespace() string   { return Namespace }

// Stage returns the pipeline position.
func (gm *GraphModule) Stage() Stage {
	return gm.stage
}

// Advance moves to the next stage. Skipping or repeating a stage is an error.
func (gm *GraphModule) Advance(to Stage) error {
	next, ok := gm.stage.next()
	if !ok || next != to {
		return fmt.Errorf("cannot move graph module from %s to %s", gm.stage, to)
	}
	gm.stage = to
	return nil
}

// Module returns the module installed at a call_module target.
func (gm *GraphModule) Module(path string) (nn.Module, bool) {
	m, ok := gm.modules[path]
	return m, ok
}

// SetModule installs m at path, replacing any module already there.
func (gm *GraphModule) SetModule(path string, m nn.Module) {
	gm.modules[path] = m
}

// DeleteModule removes the module at path.
func (gm *GraphModule) DeleteModule(path string) {
	delete(gm.modules, path)
}

// ModulePaths returns the module table keys, sorted.
func (gm *GraphModule) ModulePaths() []string {
	paths := make([]string, 0, len(gm.modules))
	for p := range gm.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Children exposes the module table. Child names are the call_module
// targets, which may contain dots.
func (gm *GraphModule) Children() []nn.Child {
	paths := gm.ModulePaths()
	out := make([]nn.Child, len(paths))
	for i, p := range paths {
		out[i] = nn.Child{Name: p, Module: gm.modules[p]}
	}
	return out
}

// SetChild implements nn.ChildSetter for an existing table entry.
func (gm *GraphModule) SetChild(name string, m nn.Module) error {
	if _, ok := gm.modules[name]; !ok {
		return fmt.Errorf("graph module has no module %q", name)
	}
	gm.modules[name] = m
	return nil
}

// Attr implements nn.Attributes.
func (gm *GraphModule) Attr(name string) (any, bool) { return gm.attrs.Attr(name) }

// SetAttr implements nn.Attributes.
func (gm *GraphModule) SetAttr(name string, value any) { gm.attrs.SetAttr(name, value) }

// AttrNames implements nn.Attributes.
func (gm *GraphModule) AttrNames() []string { return gm.attrs.AttrNames() }

// InputNames implements nn.Signature from the graph's input nodes.
func (gm *GraphModule) InputNames() []string {
	inputs := gm.Graph.Inputs()
	names := make([]string, len(inputs))
	for i, n := range inputs {
		names[i] = n.Name
	}
	return names
}

// Forward replays the graph through b, node by node.
func (gm *GraphModule) Forward(b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
	inputs := gm.Graph.Inputs()
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("graph module takes %d inputs, got %d", len(inputs), len(args))
	}

	env := make(map[*ir.Node]ir.Arg, gm.Graph.Len())
	load := func(a ir.Arg) ir.Arg {
		return ir.MapNodes(a, func(n *ir.Node) ir.Arg { return env[n] })
	}
	loadAll := func(as []ir.Arg) []ir.Arg {
		out := make([]ir.Arg, len(as))
		for i, a := range as {
			out[i] = load(a)
		}
		return out
	}

	next := 0
	for _, n := range gm.Graph.Nodes() {
		var (
			v   ir.Arg
			err error
		)
		switch n.Kind {
		case ir.KindInput:
			v = args[next]
			next++
		case ir.KindConstant:
			if len(n.Args) > 0 {
				v, err = b.Constant(n.Target, load(n.Args[0]))
			} else {
				v, err = b.GetAttr(gm, n.Target)
			}
		case ir.KindCallModule:
			m, ok := gm.modules[n.Target]
			if !ok {
				return nil, fmt.Errorf("node %q calls missing module %q", n.Name, n.Target)
			}
			v, err = b.CallModule(m, loadAll(n.Args)...)
		case ir.KindCallFunction:
			var kwargs ir.IRObject
			if n.Kwargs != nil {
				kwargs = load(n.Kwargs).(ir.IRObject)
			}
			v, err = b.CallFunction(n.Target, loadAll(n.Args), kwargs)
		case ir.KindCallMethod:
			loaded := loadAll(n.Args)
			if len(loaded) == 0 {
				return nil, fmt.Errorf("method node %q has no receiver", n.Name)
			}
			v, err = b.CallMethod(n.Target, loaded[0], loaded[1:]...)
		case ir.KindOutput:
			if len(n.Args) == 0 {
				return ir.IRNull{}, nil
			}
			return load(n.Args[0]), nil
		default:
			return nil, fmt.Errorf("node %q: %w", n.Name, n.Kind.Validate())
		}
		if err != nil {
			return nil, err
		}
		env[n] = v
	}
	return nil, fmt.Errorf("graph has no output node")
}

// Clone copies the graph, module table, attributes and boundary indices.
// Modules and the scope map are shared.
func (gm *GraphModule) Clone() *GraphModule {
	c := New(gm.RootType, gm.Graph.Clone(), gm.Scopes, gm.modules)
	c.UnitID = gm.UnitID
	c.IsQAT = gm.IsQAT
	c.Standalone = gm.Standalone
	c.InputQuantizedIndices = append([]int(nil), gm.InputQuantizedIndices...)
	c.OutputQuantizedIndices = append([]int(nil), gm.OutputQuantizedIndices...)
	c.stage = gm.stage
	for _, name := range gm.attrs.AttrNames() {
		v, _ := gm.attrs.Attr(name)
		c.attrs.SetAttr(name, v)
	}
	return c
}

// String renders the graph table.
func (gm *GraphModule) String() string {
	return ir.Pretty(gm.Graph)
}

var (
	_ nn.Module      = (*GraphModule)(nil)
	_ nn.Attributes  = (*GraphModule)(nil)
	_ nn.ChildSetter = (*GraphModule)(nil)
	_ nn.Signature   = (*GraphModule)(nil)
)
