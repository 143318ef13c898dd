package nn

import (
	"fmt"

	"github.com/roach88/fxq/internal/ir"
)

// ForwardFunc is the body of a user-defined module.
type ForwardFunc func(self *Custom, b Builder, args ...ir.Arg) (ir.Arg, error)

// Custom is a user-defined module: a type name, children, and a forward body.
type Custom struct {
	Base
	typ    ir.ModuleType
	ns     string
	inputs []string
	fn     ForwardFunc
}

// NewCustom creates a user module of the given type in the user namespace.
func NewCustom(typ ir.ModuleType, fn ForwardFunc) *Custom {
	return &Custom{typ: typ, ns: NamespaceUser, fn: fn}
}

// With registers a child and returns c for chaining.
func (c *Custom) With(name string, m Module) *Custom {
	c.AddChild(name, m)
	return c
}

// WithInputs names the forward inputs and returns c for chaining.
func (c *Custom) WithInputs(names ...string) *Custom {
	c.inputs = append([]string(nil), names...)
	return c
}

// WithNamespace overrides the defining namespace and returns c for chaining.
func (c *Custom) WithNamespace(ns string) *Custom {
	c.ns = ns
	return c
}

func (c *Custom) Type() ir.ModuleType { return c.typ }
func (c *Custom) Namespace() string   { return c.ns }

// InputNames implements Signature when inputs were named.
func (c *Custom) InputNames() []string {
	return append([]string(nil), c.inputs...)
}

func (c *Custom) Forward(b Builder, args ...ir.Arg) (ir.Arg, error) {
	if c.fn == nil {
		return nil, fmt.Errorf("%s has no forward", c.typ)
	}
	return c.fn(c, b, args...)
}

// MustChild returns a child by name, panicking when absent. Intended for
// forward bodies, where a missing child is a construction bug.
func (c *Custom) MustChild(name string) Module {
	m, ok := c.Child(name)
	if !ok {
		panic(fmt.Sprintf("%s has no child %q", c.typ, name))
	}
	return m
}

// Call invokes the named child through b.
func (c *Custom) Call(b Builder, name string, args ...ir.Arg) (ir.Arg, error) {
	m, ok := c.Child(name)
	if !ok {
		return nil, fmt.Errorf("%s has no child %q", c.typ, name)
	}
	return b.CallModule(m, args...)
}

// Functional returns the named child as a Functional helper.
func (c *Custom) Functional(name string) (Functional, error) {
	m, ok := c.Child(name)
	if !ok {
		return nil, fmt.Errorf("%s has no child %q", c.typ, name)
	}
	f, ok := m.(Functional)
	if !ok {
		return nil, fmt.Errorf("%s child %q (%s) is not a functional helper", c.typ, name, m.Type())
	}
	return f, nil
}
