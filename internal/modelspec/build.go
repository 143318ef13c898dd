package modelspec

import (
	"errors"
	"fmt"

	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

// Build validates d and instantiates its root definition. Every module
// declaration gets its own instance, so two declarations of the same
// definition are distinct sub-modules. Validation failures are joined;
// use errors.As with ValidationError to inspect them.
func Build(d *Description) (nn.Module, error) {
	if verrs := Validate(d); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, errors.Join(errs...)
	}
	return instantiate(d, d.Root())
}

// LoadModule loads and builds the description at path.
func LoadModule(path string) (nn.Module, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Build(d)
}

func instantiate(d *Description, name string) (*nn.Custom, error) {
	def := d.Definitions[name]
	c := nn.NewCustom(ir.ModuleType(name), forward(def)).WithInputs(def.inputNames()...)
	for _, decl := range def.Modules {
		m, err := declare(d, decl)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, decl.Name, err)
		}
		c.With(decl.Name, m)
	}
	setAttrs(c, def.Attributes)
	return c, nil
}

func declare(d *Description, decl ModuleDecl) (nn.Module, error) {
	var (
		m   nn.Module
		err error
	)
	if _, ok := d.Definitions[decl.Type]; ok {
		m, err = instantiate(d, decl.Type)
	} else {
		m, err = nn.NewLibraryModule(decl.Type, nn.Params(decl.Params))
	}
	if err != nil {
		return nil, err
	}
	if a, ok := m.(nn.Attributes); ok {
		setAttrs(a, decl.Attributes)
	}
	return m, nil
}

func setAttrs(a nn.Attributes, attrs map[string]any) {
	for _, k := range sortedKeys(attrs) {
		a.SetAttr(k, attrs[k])
	}
}

func forward(def Definition) nn.ForwardFunc {
	if len(def.Forward) == 0 {
		return chainChildren
	}
	return func(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		inputs := def.inputNames()
		if len(args) != len(inputs) {
			return nil, fmt.Errorf("%s: expected %d inputs, got %d", self.Type(), len(inputs), len(args))
		}
		env := make(map[string]ir.Arg, len(inputs)+len(def.Forward))
		for i, name := range inputs {
			env[name] = args[i]
		}
		var last ir.Arg = args[0]
		for i, st := range def.Forward {
			v, err := runStep(self, b, env, st)
			if err != nil {
				return nil, fmt.Errorf("%s forward[%d]: %w", self.Type(), i, err)
			}
			if st.Out != "" {
				env[st.Out] = v
			}
			last = v
		}
		if def.Output == nil {
			return last, nil
		}
		return resolve(env, def.Output)
	}
}

// chainChildren feeds the single input through every child in order.
func chainChildren(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: expected 1 input, got %d", self.Type(), len(args))
	}
	x := args[0]
	for _, c := range self.Children() {
		out, err := b.CallModule(c.Module, x)
		if err != nil {
			return nil, err
		}
		x = out
	}
	return x, nil
}

func runStep(self *nn.Custom, b nn.Builder, env map[string]ir.Arg, st Step) (ir.Arg, error) {
	args, err := resolveAll(env, st.Args)
	if err != nil {
		return nil, fmt.Errorf("args%w", err)
	}
	var kwargs ir.IRObject
	if len(st.Kwargs) > 0 {
		kwargs = make(ir.IRObject, len(st.Kwargs))
	}
	for k, v := range st.Kwargs {
		if kwargs[k], err = resolve(env, v); err != nil {
			return nil, fmt.Errorf("kwargs[%q]: %w", k, err)
		}
	}
	switch {
	case st.Call != "":
		return self.Call(b, st.Call, args...)
	case st.Function != "":
		return b.CallFunction(st.Function, args, kwargs)
	case st.Method != "":
		return b.CallMethod(st.Method, args[0], args[1:]...)
	case st.Functional != "":
		f, err := self.Functional(st.Functional)
		if err != nil {
			return nil, err
		}
		return applyFunctional(f, b, st.Op, args, kwargs)
	case st.Branch != "":
		taken, err := b.Branch(env[st.Branch])
		if err != nil {
			return nil, err
		}
		return ir.IRBool(taken), nil
	}
	return nil, fmt.Errorf("empty step")
}

func applyFunctional(f nn.Functional, b nn.Builder, op string, args []ir.Arg, kwargs ir.IRObject) (ir.Arg, error) {
	switch op {
	case "add", "mul":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s: expected 2 arguments, got %d", op, len(args))
		}
		if op == "add" {
			return f.Add(b, args[0], args[1])
		}
		return f.Mul(b, args[0], args[1])
	case "cat":
		dim := 0
		if v, ok := kwargs["dim"].(ir.IRInt); ok {
			dim = int(v)
		}
		return f.Cat(b, args, dim)
	}
	return nil, fmt.Errorf("unknown functional op %q", op)
}

func resolveAll(env map[string]ir.Arg, vs []any) ([]ir.Arg, error) {
	out := make([]ir.Arg, len(vs))
	for i, v := range vs {
		a, err := resolve(env, v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// resolve turns a decoded value into an argument. A string names a bound
// value; {literal: v} passes v through unresolved.
func resolve(env map[string]ir.Arg, v any) (ir.Arg, error) {
	if lit, ok := literalOf(v); ok {
		return ir.FromGo(lit)
	}
	switch val := v.(type) {
	case string:
		if a, ok := env[val]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("undefined value %q", val)
	case []any:
		arr, err := resolveAll(env, val)
		if err != nil {
			return nil, err
		}
		return ir.IRArray(arr), nil
	case map[string]any:
		obj := make(ir.IRObject, len(val))
		for k, elem := range val {
			a, err := resolve(env, elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = a
		}
		return obj, nil
	}
	return ir.FromGo(v)
}
