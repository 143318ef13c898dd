package ir

import (
	"errors"
	"fmt"
)

// ModuleType identifies a module's concrete type, e.g. "nn.Linear".
// The zero value means "no module" (the top level of a trace).
type ModuleType string

// NoModuleType is the type recorded for nodes created outside any sub-module.
const NoModuleType ModuleType = ""

// String renders the type, printing the zero value as "None".
func (t ModuleType) String() string {
	if t == NoModuleType {
		return "None"
	}
	return string(t)
}

// Scope identifies the structural owner of a traced operation: the
// qualified path of the module whose forward was running, and its type.
type Scope struct {
	Path string     `json:"module_path"`
	Type ModuleType `json:"module_type"`
}

// RootScope is the scope of the top-level module body.
var RootScope = Scope{Path: "", Type: NoModuleType}

// String renders the scope as ("path", Type).
func (s Scope) String() string {
	return fmt.Sprintf("(%q, %s)", s.Path, s.Type)
}

// ErrScopeMapFrozen is returned when recording into a frozen ScopeMap.
var ErrScopeMapFrozen = errors.New("scope map is frozen")

// ScopeMap records, for every node name, the scope active when the node was
// created. It is append-only: a name can be recorded once. After tracing
// completes the map is frozen and only read by later stages.
type ScopeMap struct {
	order  []string
	scopes map[string]Scope
	frozen bool
}

// NewScopeMap creates an empty, writable map.
func NewScopeMap() *ScopeMap {
	return &ScopeMap{scopes: make(map[string]Scope)}
}

// Record stores the scope snapshot for a node name.
// Returns an error if the name was already recorded or the map is frozen.
func (m *ScopeMap) Record(name string, scope Scope) error {
	if m.frozen {
		return fmt.Errorf("record %q: %w", name, ErrScopeMapFrozen)
	}
	if _, exists := m.scopes[name]; exists {
		return fmt.Errorf("record %q: node already has a scope", name)
	}
	m.scopes[name] = scope
	m.order = append(m.order, name)
	return nil
}

// Lookup returns the scope recorded for name.
func (m *ScopeMap) Lookup(name string) (Scope, bool) {
	if m == nil {
		return Scope{}, false
	}
	s, ok := m.scopes[name]
	return s, ok
}

// Names returns recorded node names in recording order.
func (m *ScopeMap) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of recorded nodes.
func (m *ScopeMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Freeze makes the map read-only.
func (m *ScopeMap) Freeze() {
	m.frozen = true
}

// Frozen reports whether the map is read-only.
func (m *ScopeMap) Frozen() bool {
	return m.frozen
}
