package nn

import (
	"fmt"
	"strings"

	"github.com/roach88/fxq/internal/ir"
)

// Namespaces of the bundled module library. A module whose namespace is
// NamespaceNN or starts with "nn." belongs to the primitive operator library.
const (
	NamespaceNN        = "nn"
	NamespaceIntrinsic = "nn.intrinsic"
	NamespaceQuantized = "nn.quantized"
	NamespaceUser      = "user"
)

// IsPrimitiveNamespace reports whether ns belongs to the primitive operator library.
func IsPrimitiveNamespace(ns string) bool {
	return ns == NamespaceNN || strings.HasPrefix(ns, NamespaceNN+".")
}

// Module is a node of the module hierarchy.
//
// Modules must be pointer types: tracing identifies a sub-module by
// identity to recover its qualified path.
type Module interface {
	// Type identifies the concrete module type, e.g. "nn.Linear".
	Type() ir.ModuleType

	// Namespace names the library that defines the module.
	Namespace() string

	// Children returns the direct sub-modules in registration order.
	Children() []Child

	// Forward emits the module's computation through b.
	Forward(b Builder, args ...ir.Arg) (ir.Arg, error)
}

// Child is a named direct sub-module.
type Child struct {
	Name   string
	Module Module
}

// Builder is the emission API a module's Forward uses while being traced.
// Values returned by the builder are symbolic: they stand for results that
// only exist when the program runs.
type Builder interface {
	// CallModule invokes a sub-module of the traced hierarchy.
	CallModule(m Module, args ...ir.Arg) (ir.Arg, error)

	// CallFunction invokes a free function such as "add" or "relu".
	CallFunction(fn string, args []ir.Arg, kwargs ir.IRObject) (ir.Arg, error)

	// CallMethod invokes a method on self, e.g. x.transpose(1, 2).
	CallMethod(method string, self ir.Arg, args ...ir.Arg) (ir.Arg, error)

	// GetAttr reads a named attribute (parameter, buffer) of owner.
	GetAttr(owner Module, name string) (ir.Arg, error)

	// Constant materializes a literal as a named graph value.
	Constant(name string, value ir.Arg) (ir.Arg, error)

	// Branch converts a value to a control-flow decision. Deciding on a
	// traced value is data-dependent and fails.
	Branch(cond ir.Arg) (bool, error)
}

// Signature is implemented by modules that name their forward inputs.
type Signature interface {
	InputNames() []string
}

// Fused marks pre-fused composite operators (e.g. Linear followed by ReLU).
type Fused interface {
	Module
	Parts() []Module
}

// Attributes is implemented by modules that carry named auxiliary values
// outside the dataflow graph.
type Attributes interface {
	Attr(name string) (any, bool)
	SetAttr(name string, value any)
	AttrNames() []string
}

// ChildSetter is implemented by modules whose children can be replaced.
type ChildSetter interface {
	SetChild(name string, m Module) error
}

// Base implements child registration and attribute storage.
// Embed it in module types.
type Base struct {
	children  []Child
	attrs     map[string]any
	attrOrder []string
}

// Children returns the direct sub-modules in registration order.
func (b *Base) Children() []Child {
	out := make([]Child, len(b.children))
	copy(out, b.children)
	return out
}

// AddChild registers a sub-module, replacing an existing child of the same name.
func (b *Base) AddChild(name string, m Module) {
	for i, c := range b.children {
		if c.Name == name {
			b.children[i].Module = m
			return
		}
	}
	b.children = append(b.children, Child{Name: name, Module: m})
}

// SetChild replaces an existing child.
func (b *Base) SetChild(name string, m Module) error {
	for i, c := range b.children {
		if c.Name == name {
			b.children[i].Module = m
			return nil
		}
	}
	return fmt.Errorf("no child named %q", name)
}

// Child returns the direct sub-module with the given name.
func (b *Base) Child(name string) (Module, bool) {
	for _, c := range b.children {
		if c.Name == name {
			return c.Module, true
		}
	}
	return nil, false
}

// Attr returns a named attribute.
func (b *Base) Attr(name string) (any, bool) {
	v, ok := b.attrs[name]
	return v, ok
}

// SetAttr sets a named attribute.
func (b *Base) SetAttr(name string, value any) {
	if b.attrs == nil {
		b.attrs = make(map[string]any)
	}
	if _, exists := b.attrs[name]; !exists {
		b.attrOrder = append(b.attrOrder, name)
	}
	b.attrs[name] = value
}

// AttrNames returns attribute names in the order they were first set.
func (b *Base) AttrNames() []string {
	out := make([]string, len(b.attrOrder))
	copy(out, b.attrOrder)
	return out
}

// typeOf joins a namespace and a short type name.
func typeOf(ns, name string) ir.ModuleType {
	return ir.ModuleType(ns + "." + name)
}

// ShortName returns the last component of a module type ("nn.Linear" -> "Linear").
func ShortName(t ir.ModuleType) string {
	s := string(t)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

// one checks that a module received exactly one input.
func one(t ir.ModuleType, args []ir.Arg) (ir.Arg, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s.forward takes 1 input, got %d", t, len(args))
	}
	return args[0], nil
}
