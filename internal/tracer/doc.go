// Package tracer builds an IR graph from a module hierarchy.
//
// Tracing runs the root module's forward against a Builder that records
// every operation as a graph node instead of computing it. Sub-modules are
// either traced into (their forward runs inline, inside a new scope) or
// recorded as a single opaque call when they are leaves.
//
// Every node is tagged, at the moment it is created, with the scope that
// was active: the qualified path and type of the innermost module being
// traced into. The resulting node-to-scope map is what later stages use to
// decide per-module policy.
//
// Scope state is an explicit stack owned by the trace. Entering a module
// pushes, and a deferred guard pops, so the prior scope is restored even
// when a forward fails partway through.
package tracer
