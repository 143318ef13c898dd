// Package ir provides the graph intermediate representation for fxq.
//
// This package contains the dataflow graph, its node kinds and argument
// values, the scope record attached to every traced node, and the canonical
// serialization used for graph fingerprints. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Node order is topological order: arguments only reference earlier nodes
//   - Node names are unique within a graph and never reused
//   - Node kinds form a closed set; consumers switch on Kind exhaustively
//   - The node-to-scope map is append-only and frozen after tracing
package ir
