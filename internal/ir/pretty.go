package ir

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Pretty renders a graph as an aligned table:
//
//	kind           name       target      args        kwargs
//	input          x          x           ()          {}
//	call_module    linear     linear      (x,)        {}
func Pretty(g *Graph) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "kind\tname\ttarget\targs\tkwargs")
	for _, n := range g.nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			n.Kind, n.Name, n.Target, formatTuple(n.Args), formatObject(n.Kwargs))
	}
	w.Flush()
	return buf.String()
}

func formatArgs(args []Arg, kwargs IRObject) string {
	parts := make([]string, 0, len(args)+len(kwargs))
	for _, a := range args {
		parts = append(parts, FormatArg(a))
	}
	for _, k := range kwargs.SortedKeys() {
		parts = append(parts, k+"="+FormatArg(kwargs[k]))
	}
	return strings.Join(parts, ", ")
}

func formatTuple(args []Arg) string {
	if len(args) == 1 {
		return "(" + FormatArg(args[0]) + ",)"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = FormatArg(a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatObject(obj IRObject) string {
	parts := make([]string, 0, len(obj))
	for _, k := range obj.SortedKeys() {
		parts = append(parts, strconv.Quote(k)+": "+FormatArg(obj[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// FormatArg renders a single argument. Node edges print as their name.
func FormatArg(a Arg) string {
	switch val := a.(type) {
	case nil, IRNull:
		return "None"
	case *Node:
		return val.Name
	case IRString:
		return strconv.Quote(string(val))
	case IRInt:
		return strconv.FormatInt(int64(val), 10)
	case IRFloat:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case IRBool:
		if val {
			return "True"
		}
		return "False"
	case IRArray:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = FormatArg(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case IRObject:
		return formatObject(val)
	default:
		return fmt.Sprintf("%v", a)
	}
}
