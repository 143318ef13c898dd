// Package harness runs quantization scenarios and checks their outcome.
//
// # Scenario Format
//
// Scenarios are YAML files. Paths are relative to the scenario file:
//
//	name: linear_relu
//	description: "Linear followed by ReLU is fused and quantized"
//	model: ../models/linear_relu.yaml
//	config: ../configs/standalone.yaml   # optional config bundle
//	run: quantize                        # fuse, prepare or quantize
//	qat: false
//	reference: false
//	expect_error: TRACE_FAILED           # optional pipeline error code
//	assertions:
//	  - type: node_order
//	    stage: converted
//	    nodes: [x, quantize_per_tensor, fc, dequantize, output]
//	  - type: node_count
//	    stage: prepared
//	    target: quantize_per_tensor
//	    count: 1
//
// Without a config bundle every operation is quantized with the default
// policy. A bundle's policy section replaces that default, so an empty
// policy section quantizes nothing.
//
// # Assertion Types
//
//   - node_order: the node names of a unit at a stage, exactly
//   - node_count: how many nodes of a unit at a stage have a target
//   - module_type: the type of a module in the final graph's module table
//   - meta: a metadata value on a node of the final graph
//   - same_graph: a unit's graph has the same fingerprint at every listed stage
//   - unit_count: how many compilation units the run logged
//
// Assertions address the top-level unit unless unit names a standalone
// unit by qualified path.
//
// # Deterministic Testing
//
// Each run logs into a fresh in-memory SQLite store with sequential unit
// IDs, so snapshots are stable across runs and can be compared against
// golden files in testdata/golden.
package harness
