// Package quantize is the pipeline orchestrator. It drives one compilation
// unit through trace, fuse, prepare and convert, copies preserved
// attributes across every stage, and compiles standalone units by running
// the same pipeline recursively on the sub-module.
//
// The rewrite work itself is delegated to the passes.Fuser,
// passes.Preparer and passes.Converter the Quantizer is built with.
package quantize
