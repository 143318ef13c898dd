package ir

import "fmt"

// NodeKind is the closed set of IR node operations.
type NodeKind string

const (
	// KindInput is a graph input (placeholder).
	KindInput NodeKind = "input"

	// KindConstant fetches a named attribute of the owning module (parameter,
	// buffer or constant).
	KindConstant NodeKind = "constant"

	// KindCallModule invokes a sub-module; Target is its qualified path.
	KindCallModule NodeKind = "call_module"

	// KindCallFunction invokes a free function; Target is the function name.
	KindCallFunction NodeKind = "call_function"

	// KindCallMethod invokes a method on Args[0]; Target is the method name.
	KindCallMethod NodeKind = "call_method"

	// KindOutput is the single graph result; Args[0] is the returned value.
	KindOutput NodeKind = "output"
)

// AllKinds lists every node kind in declaration order.
var AllKinds = []NodeKind{
	KindInput,
	KindConstant,
	KindCallModule,
	KindCallFunction,
	KindCallMethod,
	KindOutput,
}

// Validate returns an error if k is not one of the known kinds.
func (k NodeKind) Validate() error {
	switch k {
	case KindInput, KindConstant, KindCallModule, KindCallFunction, KindCallMethod, KindOutput:
		return nil
	default:
		return fmt.Errorf("unknown node kind %q", string(k))
	}
}

// IsCall reports whether k performs a computation (module, function or method call).
func (k NodeKind) IsCall() bool {
	switch k {
	case KindCallModule, KindCallFunction, KindCallMethod:
		return true
	case KindInput, KindConstant, KindOutput:
		return false
	default:
		return false
	}
}
