package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates unit IDs "unit-0001", "unit-0002", ... for tests.
//
// Unlike quantize.UUIDv7Generator, SequentialIDs can be reset for test reuse.
// The same scenario run twice produces identical unit IDs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	seq    int64
	prefix string
}

// NewSequentialIDs creates a generator whose first ID is "unit-0001".
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{prefix: "unit"}
}

// NewPrefixedIDs returns a generator producing "<prefix>-0001", ...
func NewPrefixedIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq)
}

// Issued returns how many IDs have been generated since the last Reset.
func (g *SequentialIDs) Issued() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence. The next call to Generate returns "<prefix>-0001".
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
