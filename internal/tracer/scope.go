package tracer

import (
	"fmt"

	"github.com/roach88/fxq/internal/ir"
)

// DefaultMaxDepth bounds module nesting during a trace. Hierarchies that
// reach it are almost always self-referential.
const DefaultMaxDepth = 256

// ScopeTracker records which module the trace is currently inside.
//
// It is an explicit stack owned by one trace: Enter saves the current scope
// and installs a new one, the returned Guard restores the saved scope.
// Guards must be released in LIFO order; releasing out of order or twice is
// a programming error and panics.
//
// Not safe for concurrent use.
type ScopeTracker struct {
	current  ir.Scope
	saved    []ir.Scope
	maxDepth int
}

// NewScopeTracker creates a tracker positioned at the root scope.
// maxDepth <= 0 selects DefaultMaxDepth.
func NewScopeTracker(maxDepth int) *ScopeTracker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &ScopeTracker{current: ir.RootScope, maxDepth: maxDepth}
}

// Current returns the active scope.
func (s *ScopeTracker) Current() ir.Scope {
	return s.current
}

// Depth returns the number of scopes entered and not yet released.
func (s *ScopeTracker) Depth() int {
	return len(s.saved)
}

// Enter makes (path, typ) the active scope. Release the guard with defer so
// the prior scope is restored on every exit path:
//
//	guard, err := tracker.Enter("sub", "test.Sub")
//	if err != nil {
//		return err
//	}
//	defer guard.Release()
func (s *ScopeTracker) Enter(path string, typ ir.ModuleType) (*Guard, error) {
	if len(s.saved) >= s.maxDepth {
		return nil, fmt.Errorf("module nesting exceeds %d levels at %q", s.maxDepth, path)
	}
	s.saved = append(s.saved, s.current)
	s.current = ir.Scope{Path: path, Type: typ}
	return &Guard{tracker: s, depth: len(s.saved)}, nil
}

// Guard restores the scope that was active before the matching Enter.
type Guard struct {
	tracker  *ScopeTracker
	depth    int
	released bool
}

// Release restores the prior scope exactly.
func (g *Guard) Release() {
	s := g.tracker
	if g.released {
		panic("tracer: scope guard released twice")
	}
	if g.depth != len(s.saved) {
		panic(fmt.Sprintf("tracer: scope guard released out of order (depth %d, stack %d)", g.depth, len(s.saved)))
	}
	g.released = true
	last := len(s.saved) - 1
	s.current = s.saved[last]
	s.saved = s.saved[:last]
}
