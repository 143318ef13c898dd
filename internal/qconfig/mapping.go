package qconfig

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/fxq/internal/ir"
)

// Query describes one operation whose policy is being resolved.
type Query struct {
	// ModulePath is the qualified path of the module the operation is (for
	// call_module nodes) or runs inside (for everything else).
	ModulePath string

	// ModuleType is the type of the module at ModulePath.
	ModuleType ir.ModuleType

	// ObjectType identifies the operation itself: a module type for
	// call_module nodes, a function or method name otherwise.
	ObjectType string

	// Index counts earlier operations with the same ModulePath and
	// ObjectType, starting at 0.
	Index int
}

// Resolver maps an operation to its policy. A nil result leaves the
// operation in floating point.
type Resolver interface {
	Resolve(q Query) *Policy
}

type typeEntry struct {
	typ    string
	policy *Policy
}

type nameEntry struct {
	name   string
	policy *Policy
}

type regexEntry struct {
	pattern string
	re      *regexp.Regexp
	policy  *Policy
}

type orderEntry struct {
	name   string
	typ    string
	index  int
	policy *Policy
}

// Mapping assigns policies by module name, name pattern, object type and
// occurrence. Resolution precedence, highest first:
//
//	module name + object type + index
//	module name (the path itself, then each parent path)
//	module name regex (first match, whole-path)
//	object type
//	global
//
// Setting an entry that already exists replaces its policy in place.
type Mapping struct {
	global     *Policy
	hasGlobal  bool
	objectType []typeEntry
	names      []nameEntry
	regexes    []regexEntry
	order      []orderEntry
}

// NewMapping creates an empty mapping; it resolves every query to nil.
func NewMapping() *Mapping {
	return &Mapping{}
}

// SetGlobal sets the fallback policy.
func (m *Mapping) SetGlobal(p *Policy) *Mapping {
	m.global = p
	m.hasGlobal = true
	return m
}

// SetObjectType sets the policy for a module type or function name.
func (m *Mapping) SetObjectType(typ string, p *Policy) *Mapping {
	for i := range m.objectType {
		if m.objectType[i].typ == typ {
			m.objectType[i].policy = p
			return m
		}
	}
	m.objectType = append(m.objectType, typeEntry{typ: typ, policy: p})
	return m
}

// SetModuleName sets the policy for a module and everything below it.
func (m *Mapping) SetModuleName(name string, p *Policy) *Mapping {
	for i := range m.names {
		if m.names[i].name == name {
			m.names[i].policy = p
			return m
		}
	}
	m.names = append(m.names, nameEntry{name: name, policy: p})
	return m
}

// SetModuleNameRegex sets the policy for module paths fully matching
// pattern. Invalid patterns are reported by Validate and never match.
func (m *Mapping) SetModuleNameRegex(pattern string, p *Policy) *Mapping {
	re, _ := regexp.Compile("^(?:" + pattern + ")$")
	for i := range m.regexes {
		if m.regexes[i].pattern == pattern {
			m.regexes[i].policy = p
			return m
		}
	}
	m.regexes = append(m.regexes, regexEntry{pattern: pattern, re: re, policy: p})
	return m
}

// SetModuleNameObjectTypeOrder sets the policy for the index-th operation
// of type typ directly inside module name.
func (m *Mapping) SetModuleNameObjectTypeOrder(name, typ string, index int, p *Policy) *Mapping {
	for i := range m.order {
		e := &m.order[i]
		if e.name == name && e.typ == typ && e.index == index {
			e.policy = p
			return m
		}
	}
	m.order = append(m.order, orderEntry{name: name, typ: typ, index: index, policy: p})
	return m
}

// Validate checks policies and regex patterns.
func (m *Mapping) Validate() error {
	if err := m.global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	for _, e := range m.objectType {
		if err := e.policy.Validate(); err != nil {
			return fmt.Errorf("object_type %q: %w", e.typ, err)
		}
	}
	for _, e := range m.names {
		if err := e.policy.Validate(); err != nil {
			return fmt.Errorf("module_name %q: %w", e.name, err)
		}
	}
	for _, e := range m.regexes {
		if e.re == nil {
			return fmt.Errorf("module_name_regex %q: invalid pattern", e.pattern)
		}
		if err := e.policy.Validate(); err != nil {
			return fmt.Errorf("module_name_regex %q: %w", e.pattern, err)
		}
	}
	for _, e := range m.order {
		if e.index < 0 {
			return fmt.Errorf("module_name_object_type_order %q/%q: negative index %d", e.name, e.typ, e.index)
		}
		if err := e.policy.Validate(); err != nil {
			return fmt.Errorf("module_name_object_type_order %q/%q/%d: %w", e.name, e.typ, e.index, err)
		}
	}
	return nil
}

// Resolve returns the policy for q, or nil.
func (m *Mapping) Resolve(q Query) *Policy {
	if m == nil {
		return nil
	}
	for _, e := range m.order {
		if e.name == q.ModulePath && e.typ == q.ObjectType && e.index == q.Index {
			return e.policy
		}
	}
	for path := q.ModulePath; path != ""; path = parentPath(path) {
		for _, e := range m.names {
			if e.name == path {
				return e.policy
			}
		}
	}
	for _, e := range m.regexes {
		if e.re != nil && e.re.MatchString(q.ModulePath) {
			return e.policy
		}
	}
	for _, e := range m.objectType {
		if e.typ == q.ObjectType {
			return e.policy
		}
	}
	return m.global
}

// IsEmpty reports whether no entry has been set.
func (m *Mapping) IsEmpty() bool {
	return m == nil || (!m.hasGlobal && len(m.objectType) == 0 && len(m.names) == 0 &&
		len(m.regexes) == 0 && len(m.order) == 0)
}

// Clone returns an independent copy. Policies are shared; they are values
// nobody mutates.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return NewMapping()
	}
	return &Mapping{
		global:     m.global,
		hasGlobal:  m.hasGlobal,
		objectType: append([]typeEntry(nil), m.objectType...),
		names:      append([]nameEntry(nil), m.names...),
		regexes:    append([]regexEntry(nil), m.regexes...),
		order:      append([]orderEntry(nil), m.order...),
	}
}

func parentPath(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}

var _ Resolver = (*Mapping)(nil)
