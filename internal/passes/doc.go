// Package passes defines the rewrite passes the pipeline runs between
// stages, and ships reference implementations of each:
//
//   - PatternFuser replaces chains of leaf module calls with the fused
//     composite the backend supports.
//   - ObserverPreparer resolves a policy for every operation and inserts
//     observer modules where values will be quantized.
//   - ReferenceConverter lowers observers to quantize/dequantize
//     operations and swaps modules for their quantized counterparts.
//
// The orchestrator only depends on the Fuser, Preparer and Converter
// interfaces; the numeric policy of the reference passes is deliberately
// simple (min/max affine quantization).
package passes
