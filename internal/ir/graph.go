package ir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Node is a single operation in a Graph.
//
// Fields are exported for reading. Structural edits (arguments, position,
// removal) go through Graph methods, which enforce the ordering invariant.
type Node struct {
	Name     string   `json:"name"`
	Kind     NodeKind `json:"kind"`
	Target   string   `json:"target"`
	Args     []Arg    `json:"args"`
	Kwargs   IRObject `json:"kwargs,omitempty"`
	TypeHint string   `json:"type_hint,omitempty"`

	// Meta holds pass annotations (policy names, boundary indices).
	// Values must be literals; node edges are not allowed here.
	Meta IRObject `json:"meta,omitempty"`

	graph *Graph
}

func (*Node) irArg() {}

// Inputs returns the nodes this node reads, in argument order then kwarg key order.
func (n *Node) Inputs() []*Node {
	var out []*Node
	for _, a := range n.Args {
		out = append(out, Nodes(a)...)
	}
	if len(n.Kwargs) > 0 {
		out = append(out, Nodes(n.Kwargs)...)
	}
	return out
}

// SetMeta sets a metadata entry.
func (n *Node) SetMeta(key string, value Arg) {
	if n.Meta == nil {
		n.Meta = IRObject{}
	}
	n.Meta[key] = value
}

// String renders the node as "name = kind[target](args)".
func (n *Node) String() string {
	return fmt.Sprintf("%s = %s[%s](%s)", n.Name, n.Kind, n.Target, formatArgs(n.Args, n.Kwargs))
}

// NodeSpec describes a node to create.
type NodeSpec struct {
	Kind     NodeKind
	Target   string
	Args     []Arg
	Kwargs   IRObject
	Name     string // Optional; derived from Target when empty
	TypeHint string
}

// Errors returned by graph construction.
var (
	// ErrForwardReference means an argument references a node that is not
	// defined earlier in the graph order.
	ErrForwardReference = errors.New("argument references a node not defined earlier in the graph")

	// ErrForeignNode means an argument references a node owned by another graph.
	ErrForeignNode = errors.New("argument references a node from another graph")

	// ErrHasUsers means a node cannot be erased because other nodes read it.
	ErrHasUsers = errors.New("node still has users")
)

// Graph is a directed acyclic dataflow graph. The node slice order is a
// topological order; every structural edit keeps it that way.
//
// A Graph has a single owner at a time and is not safe for concurrent use.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
	used   map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]*Node),
		used:   make(map[string]bool),
	}
}

// Nodes returns the nodes in order. The slice is a copy; the nodes are not.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Output returns the output node, or nil before it is created.
func (g *Graph) Output() *Node {
	if len(g.nodes) == 0 {
		return nil
	}
	last := g.nodes[len(g.nodes)-1]
	if last.Kind != KindOutput {
		return nil
	}
	return last
}

// Inputs returns the input nodes in order.
func (g *Graph) Inputs() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == KindInput {
			out = append(out, n)
		}
	}
	return out
}

// Create appends a node. Once the output node exists, new nodes are placed
// immediately before it.
func (g *Graph) Create(spec NodeSpec) (*Node, error) {
	idx := len(g.nodes)
	if out := g.Output(); out != nil {
		if spec.Kind == KindOutput {
			return nil, fmt.Errorf("create output: graph already has output node %q", out.Name)
		}
		idx--
	}
	return g.insertAt(idx, spec)
}

// InsertAfter places a new node directly after anchor.
func (g *Graph) InsertAfter(anchor *Node, spec NodeSpec) (*Node, error) {
	idx, err := g.indexOf(anchor)
	if err != nil {
		return nil, err
	}
	if anchor.Kind == KindOutput {
		return nil, fmt.Errorf("insert after %q: cannot insert after the output node", anchor.Name)
	}
	return g.insertAt(idx+1, spec)
}

// InsertBefore places a new node directly before anchor.
func (g *Graph) InsertBefore(anchor *Node, spec NodeSpec) (*Node, error) {
	idx, err := g.indexOf(anchor)
	if err != nil {
		return nil, err
	}
	return g.insertAt(idx, spec)
}

func (g *Graph) insertAt(idx int, spec NodeSpec) (*Node, error) {
	if err := spec.Kind.Validate(); err != nil {
		return nil, err
	}
	if spec.Kind == KindOutput && idx != len(g.nodes) {
		return nil, fmt.Errorf("output node must be last")
	}
	if err := g.checkArgs(idx, spec.Args, spec.Kwargs); err != nil {
		return nil, fmt.Errorf("create %s[%s]: %w", spec.Kind, spec.Target, err)
	}

	n := &Node{
		Name:     g.uniqueName(spec),
		Kind:     spec.Kind,
		Target:   spec.Target,
		Args:     append([]Arg(nil), spec.Args...),
		Kwargs:   spec.Kwargs.Clone(),
		TypeHint: spec.TypeHint,
		graph:    g,
	}

	g.nodes = append(g.nodes, nil)
	copy(g.nodes[idx+1:], g.nodes[idx:])
	g.nodes[idx] = n
	g.byName[n.Name] = n
	return n, nil
}

// checkArgs verifies every node edge points at a node of this graph
// positioned before idx.
func (g *Graph) checkArgs(idx int, args []Arg, kwargs IRObject) error {
	allowed := make(map[*Node]bool, idx)
	for _, n := range g.nodes[:idx] {
		allowed[n] = true
	}
	var err error
	check := func(n *Node) {
		if err != nil {
			return
		}
		if n.graph != g {
			err = fmt.Errorf("%q: %w", n.Name, ErrForeignNode)
			return
		}
		if !allowed[n] {
			err = fmt.Errorf("%q: %w", n.Name, ErrForwardReference)
		}
	}
	for _, a := range args {
		walkArg(a, check)
	}
	walkArg(kwargs, check)
	return err
}

func (g *Graph) indexOf(n *Node) (int, error) {
	if n == nil || n.graph != g {
		return 0, ErrForeignNode
	}
	for i, m := range g.nodes {
		if m == n {
			return i, nil
		}
	}
	return 0, fmt.Errorf("node %q was erased", n.Name)
}

// SetArgs replaces a node's arguments, enforcing the ordering invariant.
func (g *Graph) SetArgs(n *Node, args []Arg, kwargs IRObject) error {
	idx, err := g.indexOf(n)
	if err != nil {
		return err
	}
	if err := g.checkArgs(idx, args, kwargs); err != nil {
		return fmt.Errorf("set args of %q: %w", n.Name, err)
	}
	n.Args = append([]Arg(nil), args...)
	n.Kwargs = kwargs.Clone()
	return nil
}

// SetTarget retargets a node (used when a pass swaps the module a call refers to).
func (g *Graph) SetTarget(n *Node, target string) error {
	if _, err := g.indexOf(n); err != nil {
		return err
	}
	n.Target = target
	return nil
}

// Users returns the nodes that read n, in graph order.
func (g *Graph) Users(n *Node) []*Node {
	var out []*Node
	for _, m := range g.nodes {
		for _, in := range m.Inputs() {
			if in == n {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// ReplaceUse rewrites the edges from old to replacement inside user only.
func (g *Graph) ReplaceUse(user, old, replacement *Node) error {
	swap := func(n *Node) *Node {
		if n == old {
			return replacement
		}
		return n
	}
	args := make([]Arg, len(user.Args))
	for i, a := range user.Args {
		args[i] = mapArg(a, swap)
	}
	var kwargs IRObject
	if user.Kwargs != nil {
		kwargs = mapArg(user.Kwargs, swap).(IRObject)
	}
	return g.SetArgs(user, args, kwargs)
}

// ReplaceAllUses rewrites every edge from old to replacement, except inside
// the nodes listed in skip (typically replacement itself).
func (g *Graph) ReplaceAllUses(old, replacement *Node, skip ...*Node) error {
	for _, user := range g.Users(old) {
		if containsNode(skip, user) {
			continue
		}
		if err := g.ReplaceUse(user, old, replacement); err != nil {
			return err
		}
	}
	return nil
}

// Erase removes a node that has no users.
func (g *Graph) Erase(n *Node) error {
	idx, err := g.indexOf(n)
	if err != nil {
		return err
	}
	if users := g.Users(n); len(users) > 0 {
		return fmt.Errorf("erase %q (used by %q): %w", n.Name, users[0].Name, ErrHasUsers)
	}
	g.nodes = append(g.nodes[:idx], g.nodes[idx+1:]...)
	delete(g.byName, n.Name)
	n.graph = nil
	return nil
}

// Validate checks the structural invariants: known kinds, unique names,
// no forward references, one output node in last position.
func (g *Graph) Validate() error {
	seen := make(map[*Node]bool, len(g.nodes))
	names := make(map[string]bool, len(g.nodes))
	outputs := 0
	for i, n := range g.nodes {
		if err := n.Kind.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		if names[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		names[n.Name] = true
		for _, in := range n.Inputs() {
			if !seen[in] {
				return fmt.Errorf("node %q reads %q: %w", n.Name, in.Name, ErrForwardReference)
			}
		}
		if n.Kind == KindOutput {
			outputs++
			if i != len(g.nodes)-1 {
				return fmt.Errorf("output node %q is not last", n.Name)
			}
		}
		seen[n] = true
	}
	if outputs != 1 {
		return fmt.Errorf("graph has %d output nodes, want 1", outputs)
	}
	return nil
}

// Clone deep-copies the graph. Node names are preserved so name-keyed side
// tables (such as a ScopeMap) stay valid for the copy.
func (g *Graph) Clone() *Graph {
	c := New()
	mapping := make(map[*Node]*Node, len(g.nodes))
	remap := func(n *Node) *Node { return mapping[n] }
	for _, n := range g.nodes {
		args := make([]Arg, len(n.Args))
		for i, a := range n.Args {
			args[i] = mapArg(a, remap)
		}
		var kwargs IRObject
		if n.Kwargs != nil {
			kwargs = mapArg(n.Kwargs, remap).(IRObject)
		}
		cn := &Node{
			Name:     n.Name,
			Kind:     n.Kind,
			Target:   n.Target,
			Args:     args,
			Kwargs:   kwargs,
			TypeHint: n.TypeHint,
			Meta:     n.Meta.Clone(),
			graph:    c,
		}
		c.nodes = append(c.nodes, cn)
		c.byName[cn.Name] = cn
		mapping[n] = cn
	}
	for name := range g.used {
		c.used[name] = true
	}
	return c
}

// uniqueName derives a fresh identifier for spec. Names are never reused,
// even after the original node is erased.
func (g *Graph) uniqueName(spec NodeSpec) string {
	base := spec.Name
	if base == "" {
		base = spec.Target
		if spec.Kind == KindOutput {
			base = "output"
		}
	}
	base = sanitizeName(base)

	candidate := base
	for i := 1; g.used[candidate]; i++ {
		candidate = base + "_" + strconv.Itoa(i)
	}
	g.used[candidate] = true
	return candidate
}

// sanitizeName maps a target such as "sub.linear" or "aten::add" to a
// valid identifier ("sub_linear", "aten_add").
func sanitizeName(s string) string {
	if s == "" {
		return "node"
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' && lastUnderscore {
			continue
		}
		lastUnderscore = r == '_'
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "node"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

func containsNode(nodes []*Node, n *Node) bool {
	for _, m := range nodes {
		if m == n {
			return true
		}
	}
	return false
}
