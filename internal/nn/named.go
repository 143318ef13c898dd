package nn

import (
	"fmt"
	"strings"
)

// Named pairs a module with its dot-separated qualified path from a root.
// The root itself has path "".
type Named struct {
	Path   string
	Module Module
}

// NamedModules walks the hierarchy depth-first in child order. A module
// reachable through several paths is reported once, under the first path.
func NamedModules(root Module) []Named {
	var out []Named
	seen := make(map[Module]bool)
	var walk func(prefix string, m Module)
	walk = func(prefix string, m Module) {
		if m == nil || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, Named{Path: prefix, Module: m})
		for _, c := range m.Children() {
			walk(JoinPath(prefix, c.Name), c.Module)
		}
	}
	walk("", root)
	return out
}

// PathIndex maps every module under root to its qualified path.
func PathIndex(root Module) map[Module]string {
	named := NamedModules(root)
	idx := make(map[Module]string, len(named))
	for _, n := range named {
		idx[n.Module] = n.Path
	}
	return idx
}

// PathOf returns the qualified path of m below root.
func PathOf(root, m Module) (string, bool) {
	for _, n := range NamedModules(root) {
		if n.Module == m {
			return n.Path, true
		}
	}
	return "", false
}

// JoinPath appends name to a qualified path.
func JoinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Lookup resolves a qualified path below root. The empty path is root.
func Lookup(root Module, path string) (Module, bool) {
	if path == "" {
		return root, root != nil
	}
	cur := root
	for _, part := range strings.Split(path, ".") {
		var next Module
		for _, c := range cur.Children() {
			if c.Name == part {
				next = c.Module
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Replace installs m at a qualified path below root. The parent of the
// path must implement ChildSetter.
func Replace(root Module, path string, m Module) error {
	if path == "" {
		return fmt.Errorf("cannot replace the root module")
	}
	parentPath, name := splitLast(path)
	parent, ok := Lookup(root, parentPath)
	if !ok {
		return fmt.Errorf("replace %q: parent %q not found", path, parentPath)
	}
	setter, ok := parent.(ChildSetter)
	if !ok {
		return fmt.Errorf("replace %q: %s does not allow replacing children", path, parent.Type())
	}
	return setter.SetChild(name, m)
}

func splitLast(path string) (string, string) {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}
