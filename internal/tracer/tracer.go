package tracer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

// Options configure a Tracer.
type Options struct {
	// SkippedModuleNames are qualified paths recorded as leaves.
	SkippedModuleNames []string

	// SkippedModuleTypes are module types recorded as leaves.
	SkippedModuleTypes []ir.ModuleType

	// MaxDepth bounds module nesting; 0 selects DefaultMaxDepth.
	MaxDepth int

	// Logger receives per-node debug output; nil uses slog.Default().
	Logger *slog.Logger
}

// Shaped is implemented by example inputs that know their shape. The
// shape becomes the type hint of the matching input node.
type Shaped interface {
	Shape() []int
}

// Result is the outcome of one trace.
type Result struct {
	// Graph is the traced program, validated.
	Graph *ir.Graph

	// Scopes maps every node name to the scope active when it was created.
	// It is frozen.
	Scopes *ir.ScopeMap

	// Modules maps each call_module target to the module it invokes.
	Modules map[string]nn.Module
}

// Tracer records a module hierarchy's forward as an IR graph.
//
// A Tracer can be reused, but not concurrently: each Trace call builds a
// fresh graph, scope stack and scope map.
type Tracer struct {
	skipNames map[string]bool
	skipTypes map[ir.ModuleType]bool
	maxDepth  int
	logger    *slog.Logger

	// per-trace state
	root     nn.Module
	paths    map[nn.Module]string
	graph    *ir.Graph
	scopes   *ScopeTracker
	scopeMap *ir.ScopeMap
	modules  map[string]nn.Module
}

// New creates a Tracer.
func New(opts Options) *Tracer {
	t := &Tracer{
		skipNames: make(map[string]bool, len(opts.SkippedModuleNames)),
		skipTypes: make(map[ir.ModuleType]bool, len(opts.SkippedModuleTypes)),
		maxDepth:  opts.MaxDepth,
		logger:    opts.Logger,
	}
	for _, n := range opts.SkippedModuleNames {
		t.skipNames[n] = true
	}
	for _, typ := range opts.SkippedModuleTypes {
		t.skipTypes[typ] = true
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// IsLeaf reports whether m, found at qualifiedName, is recorded as one
// opaque call instead of being traced into. Any of these makes a leaf:
//   - m belongs to the primitive library and is not a Sequential container
//   - qualifiedName is in the skipped names
//   - m's type is in the skipped types
//   - m is a fused composite
func (t *Tracer) IsLeaf(m nn.Module, qualifiedName string) bool {
	_, sequential := m.(*nn.Sequential)
	if nn.IsPrimitiveNamespace(m.Namespace()) && !sequential {
		return true
	}
	if t.skipNames[qualifiedName] {
		return true
	}
	if t.skipTypes[m.Type()] {
		return true
	}
	_, fused := m.(nn.Fused)
	return fused
}

// CurrentScope returns the scope active at this point of the trace.
// Only meaningful while Trace is running.
func (t *Tracer) CurrentScope() ir.Scope {
	if t.scopes == nil {
		return ir.RootScope
	}
	return t.scopes.Current()
}

// Trace runs root's forward symbolically and returns the recorded graph.
//
// Input nodes are named after root's Signature when it has one, otherwise
// one per example input ("x", "x_1", ...), otherwise a single "x".
func (t *Tracer) Trace(root nn.Module, exampleInputs []any) (*Result, error) {
	t.root = root
	t.paths = nn.PathIndex(root)
	t.graph = ir.New()
	t.scopes = NewScopeTracker(t.maxDepth)
	t.scopeMap = ir.NewScopeMap()
	t.modules = make(map[string]nn.Module)
	defer t.reset()

	names, err := inputNames(root, len(exampleInputs))
	if err != nil {
		return nil, err
	}

	args := make([]ir.Arg, len(names))
	for i, name := range names {
		spec := ir.NodeSpec{Kind: ir.KindInput, Target: name, Name: name}
		if i < len(exampleInputs) {
			if s, ok := exampleInputs[i].(Shaped); ok {
				spec.TypeHint = shapeHint(s.Shape())
			}
		}
		n, err := t.createNode(spec)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}

	out, err := root.Forward(t, args...)
	if err != nil {
		var te *TraceError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TraceError{Code: ErrCodeForwardFailed, Module: "", Message: "forward failed", Err: err}
	}
	if out == nil {
		out = ir.IRNull{}
	}
	if _, err := t.createNode(ir.NodeSpec{Kind: ir.KindOutput, Target: "output", Args: []ir.Arg{out}}); err != nil {
		return nil, err
	}

	if depth := t.scopes.Depth(); depth != 0 {
		return nil, &TraceError{Code: ErrCodeInvalidGraph, Message: fmt.Sprintf("scope stack not balanced after trace (depth %d)", depth)}
	}
	if err := t.graph.Validate(); err != nil {
		return nil, &TraceError{Code: ErrCodeInvalidGraph, Message: "traced graph is invalid", Err: err}
	}
	t.scopeMap.Freeze()

	t.logger.Debug("trace complete",
		"root", root.Type().String(),
		"nodes", t.graph.Len(),
		"leaves", len(t.modules))

	return &Result{Graph: t.graph, Scopes: t.scopeMap, Modules: t.modules}, nil
}

func (t *Tracer) reset() {
	t.root = nil
	t.paths = nil
	t.graph = nil
	t.scopes = nil
	t.scopeMap = nil
	t.modules = nil
}

func inputNames(root nn.Module, examples int) ([]string, error) {
	if sig, ok := root.(nn.Signature); ok {
		if names := sig.InputNames(); len(names) > 0 {
			if examples > 0 && examples != len(names) {
				return nil, &TraceError{
					Code:    ErrCodeInputMismatch,
					Message: fmt.Sprintf("forward takes %d inputs %v, got %d example inputs", len(names), names, examples),
				}
			}
			return names, nil
		}
	}
	if examples == 0 {
		examples = 1
	}
	names := make([]string, examples)
	for i := range names {
		names[i] = "x"
	}
	return names, nil
}

func shapeHint(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	return "Tensor[" + strings.Join(dims, "x") + "]"
}

// createNode appends a node and records the active scope for it.
func (t *Tracer) createNode(spec ir.NodeSpec) (*ir.Node, error) {
	n, err := t.graph.Create(spec)
	if err != nil {
		return nil, &TraceError{Code: ErrCodeInvalidGraph, Module: t.scopes.Current().Path, Message: "cannot create node", Err: err}
	}
	scope := t.scopes.Current()
	if err := t.scopeMap.Record(n.Name, scope); err != nil {
		return nil, &TraceError{Code: ErrCodeInvalidGraph, Module: scope.Path, Message: "cannot record scope", Err: err}
	}
	t.logger.Debug("node created", "node", n.Name, "kind", string(n.Kind), "scope", scope.String())
	return n, nil
}

// CallModule implements nn.Builder.
func (t *Tracer) CallModule(m nn.Module, args ...ir.Arg) (ir.Arg, error) {
	path, ok := t.paths[m]
	if !ok {
		return nil, &TraceError{
			Code:    ErrCodeUnknownModule,
			Module:  t.scopes.Current().Path,
			Message: fmt.Sprintf("%s is not part of the traced hierarchy", m.Type()),
		}
	}
	if m == t.root {
		return nil, &TraceError{Code: ErrCodeMaxDepth, Module: path, Message: "root module calls itself"}
	}

	if t.IsLeaf(m, path) {
		t.modules[path] = m
		return t.createNode(ir.NodeSpec{Kind: ir.KindCallModule, Target: path, Args: normalizeArgs(args)})
	}
	return t.traceInto(m, path, args)
}

// traceInto runs a non-leaf module's forward inside its own scope. The
// deferred release restores the caller's scope on every exit, including
// panics raised by the module body.
func (t *Tracer) traceInto(m nn.Module, path string, args []ir.Arg) (ir.Arg, error) {
	guard, err := t.scopes.Enter(path, m.Type())
	if err != nil {
		return nil, &TraceError{Code: ErrCodeMaxDepth, Module: path, Message: "module nesting too deep", Err: err}
	}
	defer guard.Release()

	out, err := m.Forward(t, args...)
	if err != nil {
		var te *TraceError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TraceError{Code: ErrCodeForwardFailed, Module: path, Message: fmt.Sprintf("%s.forward failed", m.Type()), Err: err}
	}
	if out == nil {
		return ir.IRNull{}, nil
	}
	return out, nil
}

// CallFunction implements nn.Builder.
func (t *Tracer) CallFunction(fn string, args []ir.Arg, kwargs ir.IRObject) (ir.Arg, error) {
	return t.createNode(ir.NodeSpec{Kind: ir.KindCallFunction, Target: fn, Args: normalizeArgs(args), Kwargs: kwargs})
}

// CallMethod implements nn.Builder.
func (t *Tracer) CallMethod(method string, self ir.Arg, args ...ir.Arg) (ir.Arg, error) {
	all := append([]ir.Arg{self}, args...)
	return t.createNode(ir.NodeSpec{Kind: ir.KindCallMethod, Target: method, Args: normalizeArgs(all)})
}

// GetAttr implements nn.Builder. The node target is the attribute's
// qualified path, e.g. "sub.linear.weight".
func (t *Tracer) GetAttr(owner nn.Module, name string) (ir.Arg, error) {
	path, ok := t.paths[owner]
	if !ok {
		return nil, &TraceError{
			Code:    ErrCodeUnknownModule,
			Module:  t.scopes.Current().Path,
			Message: fmt.Sprintf("attribute %q read from %s outside the traced hierarchy", name, owner.Type()),
		}
	}
	return t.createNode(ir.NodeSpec{Kind: ir.KindConstant, Target: nn.JoinPath(path, name)})
}

// Constant implements nn.Builder.
func (t *Tracer) Constant(name string, value ir.Arg) (ir.Arg, error) {
	if value == nil {
		value = ir.IRNull{}
	}
	if len(ir.Nodes(value)) > 0 {
		return nil, &TraceError{Code: ErrCodeInvalidGraph, Module: t.scopes.Current().Path, Message: fmt.Sprintf("constant %q holds a traced value", name)}
	}
	return t.createNode(ir.NodeSpec{Kind: ir.KindConstant, Target: name, Args: []ir.Arg{value}})
}

// Branch implements nn.Builder. Only literal conditions can be decided
// while tracing.
func (t *Tracer) Branch(cond ir.Arg) (bool, error) {
	if len(ir.Nodes(cond)) > 0 {
		return false, &TraceError{
			Code:    ErrCodeDataDependent,
			Module:  t.scopes.Current().Path,
			Message: "control flow depends on a traced value",
		}
	}
	switch v := cond.(type) {
	case nil, ir.IRNull:
		return false, nil
	case ir.IRBool:
		return bool(v), nil
	case ir.IRInt:
		return v != 0, nil
	case ir.IRFloat:
		return v != 0, nil
	case ir.IRString:
		return v != "", nil
	case ir.IRArray:
		return len(v) > 0, nil
	case ir.IRObject:
		return len(v) > 0, nil
	default:
		return false, fmt.Errorf("cannot branch on %T", cond)
	}
}

func normalizeArgs(args []ir.Arg) []ir.Arg {
	out := make([]ir.Arg, len(args))
	for i, a := range args {
		if a == nil {
			a = ir.IRNull{}
		}
		out[i] = a
	}
	return out
}

var _ nn.Builder = (*Tracer)(nil)
