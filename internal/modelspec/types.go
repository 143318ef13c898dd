package modelspec

import "sort"

// Description is a declarative model: module definitions plus the name
// of the root definition.
type Description struct {
	// Model names the root definition. It may be omitted when there is
	// exactly one definition.
	Model       string                `yaml:"model,omitempty" json:"model,omitempty"`
	Definitions map[string]Definition `yaml:"definitions" json:"definitions"`
}

// Definition describes one user module type. The definition's name is
// its module type.
type Definition struct {
	// Inputs names the forward inputs; empty means a single "x".
	Inputs     []string       `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Modules    []ModuleDecl   `yaml:"modules,omitempty" json:"modules,omitempty"`
	Forward    []Step         `yaml:"forward,omitempty" json:"forward,omitempty"`
	Output     any            `yaml:"output,omitempty" json:"output,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// ModuleDecl declares a named child module.
type ModuleDecl struct {
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type" json:"type"`
	Params     map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Step is one forward operation. Exactly one of Call, Function, Method,
// Functional and Branch is set.
type Step struct {
	// Call invokes the named child module.
	Call string `yaml:"call,omitempty" json:"call,omitempty"`

	// Function invokes a free function such as "add" or "relu".
	Function string `yaml:"function,omitempty" json:"function,omitempty"`

	// Method invokes a method on the first argument.
	Method string `yaml:"method,omitempty" json:"method,omitempty"`

	// Functional names a Functional child; Op selects add, mul or cat.
	Functional string `yaml:"functional,omitempty" json:"functional,omitempty"`
	Op         string `yaml:"op,omitempty" json:"op,omitempty"`

	// Branch decides on a value. Deciding on a traced value fails.
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	Args   []any          `yaml:"args,omitempty" json:"args,omitempty"`
	Kwargs map[string]any `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
	Out    string         `yaml:"out,omitempty" json:"out,omitempty"`
}

// Root returns the name of the root definition.
func (d *Description) Root() string {
	if d.Model != "" || len(d.Definitions) != 1 {
		return d.Model
	}
	for name := range d.Definitions {
		return name
	}
	return ""
}

// inputNames returns the forward inputs of def.
func (def Definition) inputNames() []string {
	if len(def.Inputs) == 0 {
		return []string{"x"}
	}
	return def.Inputs
}

func (s Step) kind() (string, int) {
	n := 0
	kind := ""
	for _, k := range []struct{ name, v string }{
		{"call", s.Call},
		{"function", s.Function},
		{"method", s.Method},
		{"functional", s.Functional},
		{"branch", s.Branch},
	} {
		if k.v != "" {
			n++
			kind = k.name
		}
	}
	return kind, n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
