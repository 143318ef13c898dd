package modelspec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/fxq/internal/nn"
)

// Validation error codes (E200-E299)
const (
	ErrNoModel             = "E200" // no root definition named
	ErrUnknownModel        = "E201" // root names no definition
	ErrEmptyName           = "E202" // module or definition name is empty
	ErrDuplicateName       = "E203" // duplicate module name in a definition
	ErrUnknownType         = "E204" // type is neither a definition nor a library module
	ErrInvalidParams       = "E205" // library constructor rejected the params
	ErrInvalidStep         = "E206" // step must have exactly one operation
	ErrUnknownChild        = "E207" // call or functional names no declared module
	ErrUnknownOp           = "E208" // functional op is not add, mul or cat
	ErrUndefinedValue      = "E209" // reference to a value not bound yet
	ErrRecursiveDefinition = "E210" // definitions instantiate each other
)

// ValidationError is a description error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var functionalOps = map[string]bool{"add": true, "mul": true, "cat": true}

// Validate checks d and returns every error found, ordered by definition
// name.
func Validate(d *Description) []ValidationError {
	var errs []ValidationError
	root := d.Root()
	switch {
	case root == "":
		errs = append(errs, ValidationError{
			Field:   "model",
			Message: "model is required when there is not exactly one definition",
			Code:    ErrNoModel,
		})
	case !hasDefinition(d, root):
		errs = append(errs, ValidationError{
			Field:   "model",
			Message: fmt.Sprintf("no definition named %q", root),
			Code:    ErrUnknownModel,
		})
	}
	for _, name := range sortedKeys(d.Definitions) {
		errs = append(errs, validateDefinition(d, name, d.Definitions[name])...)
	}
	errs = append(errs, recursiveDefinitions(d)...)
	return errs
}

func hasDefinition(d *Description, name string) bool {
	_, ok := d.Definitions[name]
	return ok
}

func validateDefinition(d *Description, name string, def Definition) []ValidationError {
	var errs []ValidationError
	field := "definitions." + name
	if strings.TrimSpace(name) == "" {
		errs = append(errs, ValidationError{Field: "definitions", Message: "definition name is empty", Code: ErrEmptyName})
	}

	children := map[string]string{}
	for i, m := range def.Modules {
		mf := fmt.Sprintf("%s.modules[%d]", field, i)
		if m.Name == "" || strings.Contains(m.Name, ".") {
			errs = append(errs, ValidationError{Field: mf, Message: fmt.Sprintf("invalid module name %q", m.Name), Code: ErrEmptyName})
			continue
		}
		if _, dup := children[m.Name]; dup {
			errs = append(errs, ValidationError{Field: mf, Message: fmt.Sprintf("duplicate module name %q", m.Name), Code: ErrDuplicateName})
			continue
		}
		children[m.Name] = m.Type
		if hasDefinition(d, m.Type) {
			continue
		}
		if _, ok := nn.ResolveLibraryType(m.Type); !ok {
			errs = append(errs, ValidationError{Field: mf + ".type", Message: fmt.Sprintf("unknown module type %q", m.Type), Code: ErrUnknownType})
			continue
		}
		if _, err := nn.NewLibraryModule(m.Type, nn.Params(m.Params)); err != nil {
			errs = append(errs, ValidationError{Field: mf + ".params", Message: err.Error(), Code: ErrInvalidParams})
		}
	}

	bound := map[string]bool{}
	for _, in := range def.inputNames() {
		bound[in] = true
	}
	for i, st := range def.Forward {
		sf := fmt.Sprintf("%s.forward[%d]", field, i)
		kind, n := st.kind()
		if n != 1 {
			errs = append(errs, ValidationError{
				Field:   sf,
				Message: "step needs exactly one of call, function, method, functional, branch",
				Code:    ErrInvalidStep,
			})
			continue
		}
		args := st.Args
		if kind == "method" && len(args) > 0 {
			args = args[1:]
		}
		if kind != "branch" {
			for j, arg := range args {
				if kind == "method" {
					j++
				}
				errs = append(errs, unboundArgs(fmt.Sprintf("%s.args[%d]", sf, j), arg, bound)...)
			}
			for _, k := range sortedKeys(st.Kwargs) {
				errs = append(errs, unboundArgs(fmt.Sprintf("%s.kwargs.%s", sf, k), st.Kwargs[k], bound)...)
			}
		}

		switch kind {
		case "call":
			if _, ok := children[st.Call]; !ok {
				errs = append(errs, ValidationError{Field: sf + ".call", Message: fmt.Sprintf("no module named %q", st.Call), Code: ErrUnknownChild})
			}
		case "functional":
			if _, ok := children[st.Functional]; !ok {
				errs = append(errs, ValidationError{Field: sf + ".functional", Message: fmt.Sprintf("no module named %q", st.Functional), Code: ErrUnknownChild})
			}
			if !functionalOps[st.Op] {
				errs = append(errs, ValidationError{Field: sf + ".op", Message: fmt.Sprintf("unknown op %q (want add, mul or cat)", st.Op), Code: ErrUnknownOp})
			}
		case "method":
			if len(st.Args) == 0 {
				errs = append(errs, ValidationError{Field: sf + ".args", Message: "method needs a receiver argument", Code: ErrInvalidStep})
			} else if self, ok := st.Args[0].(string); !ok || !bound[self] {
				errs = append(errs, ValidationError{Field: sf + ".args[0]", Message: fmt.Sprintf("receiver %v is not a bound value", st.Args[0]), Code: ErrUndefinedValue})
			}
		case "branch":
			if !bound[st.Branch] {
				errs = append(errs, ValidationError{Field: sf + ".branch", Message: fmt.Sprintf("%q is not a bound value", st.Branch), Code: ErrUndefinedValue})
			}
		}
		if st.Out != "" {
			bound[st.Out] = true
		}
	}

	switch out := def.Output.(type) {
	case nil:
	case string:
		if !bound[out] {
			errs = append(errs, ValidationError{Field: field + ".output", Message: fmt.Sprintf("%q is not a bound value", out), Code: ErrUndefinedValue})
		}
	case []any:
		for i, o := range out {
			if s, ok := o.(string); !ok || !bound[s] {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("%s.output[%d]", field, i), Message: fmt.Sprintf("%v is not a bound value", o), Code: ErrUndefinedValue})
			}
		}
	default:
		errs = append(errs, ValidationError{Field: field + ".output", Message: fmt.Sprintf("output must be a name or a list of names, got %T", out), Code: ErrUndefinedValue})
	}
	return errs
}

// literalKey marks a literal argument: {literal: reflect} is the string
// "reflect", not a reference to a value named reflect.
const literalKey = "literal"

func literalOf(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, false
	}
	lit, ok := m[literalKey]
	return lit, ok
}

// unboundArgs reports every string inside v that names no bound value.
func unboundArgs(field string, v any, bound map[string]bool) []ValidationError {
	if _, ok := literalOf(v); ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		if !bound[val] {
			return []ValidationError{{
				Field:   field,
				Message: fmt.Sprintf("%q is not a bound value (write {%s: %s} for a string)", val, literalKey, val),
				Code:    ErrUndefinedValue,
			}}
		}
	case []any:
		var errs []ValidationError
		for i, elem := range val {
			errs = append(errs, unboundArgs(fmt.Sprintf("%s[%d]", field, i), elem, bound)...)
		}
		return errs
	case map[string]any:
		var errs []ValidationError
		for _, k := range sortedKeys(val) {
			errs = append(errs, unboundArgs(field+"."+k, val[k], bound)...)
		}
		return errs
	}
	return nil
}

// recursiveDefinitions reports each set of definitions that instantiate
// one another, which would build an infinite module tree.
func recursiveDefinitions(d *Description) []ValidationError {
	graph := map[string][]string{}
	for _, name := range sortedKeys(d.Definitions) {
		graph[name] = []string{}
		for _, m := range d.Definitions[name].Modules {
			if hasDefinition(d, m.Type) {
				graph[name] = append(graph[name], m.Type)
			}
		}
	}

	var errs []ValidationError
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !slices.Contains(graph[scc[0]], scc[0]) {
			continue
		}
		slices.Sort(scc)
		errs = append(errs, ValidationError{
			Field:   "definitions." + scc[0],
			Message: fmt.Sprintf("recursive definitions: %s", strings.Join(scc, ", ")),
			Code:    ErrRecursiveDefinition,
		})
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

// tarjanSCC returns the strongly connected components of graph.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var connect func(string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			connect(node)
		}
	}
	return sccs
}
