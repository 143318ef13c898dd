package ir

import (
	"fmt"
	"math"
	"slices"
	"unicode/utf16"
)

// Arg is a sealed interface for everything that may appear as a node
// argument: an edge to another node (*Node) or a literal value.
// Only the types in this package implement it.
type Arg interface {
	irArg()
}

// IRNull represents an absent value.
type IRNull struct{}

func (IRNull) irArg() {}

// IRString represents a string literal.
type IRString string

func (IRString) irArg() {}

// IRInt represents an integer literal.
type IRInt int64

func (IRInt) irArg() {}

// IRFloat represents a floating point literal (scales, constants).
// NaN and infinities cannot be serialized canonically.
type IRFloat float64

func (IRFloat) irArg() {}

// IRBool represents a boolean literal.
type IRBool bool

func (IRBool) irArg() {}

// IRArray represents a tuple or list argument. Elements may be node edges.
type IRArray []Arg

func (IRArray) irArg() {}

// IRObject represents a string-keyed mapping. Used for keyword arguments
// and node metadata. Use SortedKeys() for deterministic iteration.
type IRObject map[string]Arg

func (IRObject) irArg() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy. Node edges are shared, literals copied.
func (obj IRObject) Clone() IRObject {
	if obj == nil {
		return nil
	}
	out := make(IRObject, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required by
// RFC 8785. Go string comparison orders by UTF-8 bytes, which differs for
// supplementary-plane characters.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// FromGo converts a plain Go value into an Arg.
// Accepts nil, Arg values, strings, integers, floats, bools, []any and
// map[string]any (recursively).
func FromGo(v any) (Arg, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case Arg:
		return val, nil
	case string:
		return IRString(val), nil
	case int:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case float32:
		return IRFloat(val), nil
	case float64:
		return IRFloat(val), nil
	case bool:
		return IRBool(val), nil
	case []int:
		arr := make(IRArray, len(val))
		for i, n := range val {
			arr[i] = IRInt(n)
		}
		return arr, nil
	case []string:
		arr := make(IRArray, len(val))
		for i, s := range val {
			arr[i] = IRString(s)
		}
		return arr, nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			a, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = a
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			a, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = a
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported argument type: %T", v)
	}
}

// MustFromGo is like FromGo but panics on error.
// Use only in tests or with literals known to be valid.
func MustFromGo(v any) Arg {
	a, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return a
}

// Nodes returns every node edge reachable from arg, in argument order.
func Nodes(arg Arg) []*Node {
	var out []*Node
	walkArg(arg, func(n *Node) { out = append(out, n) })
	return out
}

// walkArg visits each node edge inside arg.
func walkArg(arg Arg, visit func(*Node)) {
	switch val := arg.(type) {
	case *Node:
		visit(val)
	case IRArray:
		for _, elem := range val {
			walkArg(elem, visit)
		}
	case IRObject:
		for _, k := range val.SortedKeys() {
			walkArg(val[k], visit)
		}
	}
}

// MapNodes returns a copy of arg with every node edge passed through fn.
// Literals are returned unchanged.
func MapNodes(arg Arg, fn func(*Node) Arg) Arg {
	switch val := arg.(type) {
	case *Node:
		return fn(val)
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			out[i] = MapNodes(elem, fn)
		}
		return out
	case IRObject:
		out := make(IRObject, len(val))
		for k, elem := range val {
			out[k] = MapNodes(elem, fn)
		}
		return out
	default:
		return arg
	}
}

// mapArg rebuilds arg with every node edge passed through fn.
func mapArg(arg Arg, fn func(*Node) *Node) Arg {
	switch val := arg.(type) {
	case *Node:
		return fn(val)
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			out[i] = mapArg(elem, fn)
		}
		return out
	case IRObject:
		out := make(IRObject, len(val))
		for k, elem := range val {
			out[k] = mapArg(elem, fn)
		}
		return out
	default:
		return arg
	}
}

// AsFloat reads a numeric literal as float64.
func AsFloat(arg Arg) (float64, bool) {
	switch val := arg.(type) {
	case IRFloat:
		return float64(val), !math.IsNaN(float64(val))
	case IRInt:
		return float64(val), true
	default:
		return 0, false
	}
}

// AsString reads a string literal.
func AsString(arg Arg) (string, bool) {
	s, ok := arg.(IRString)
	return string(s), ok
}
