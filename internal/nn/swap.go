package nn

// SwapFloatFunctional replaces every FloatFunctional below root with an
// FXFloatFunctional so that traced arithmetic lowers to plain function
// calls. Attributes set on the replaced module are carried over.
// Returns the number of modules swapped.
func SwapFloatFunctional(root Module) int {
	swapped := 0
	for _, c := range root.Children() {
		ff, ok := c.Module.(*FloatFunctional)
		if !ok {
			swapped += SwapFloatFunctional(c.Module)
			continue
		}
		setter, ok := root.(ChildSetter)
		if !ok {
			continue
		}
		repl := NewFXFloatFunctional()
		for _, name := range ff.AttrNames() {
			v, _ := ff.Attr(name)
			repl.SetAttr(name, v)
		}
		if err := setter.SetChild(c.Name, repl); err == nil {
			swapped++
		}
	}
	return swapped
}
