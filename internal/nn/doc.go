// Package nn defines the module hierarchy that fxq traces.
//
// A model is a tree of Modules. Each module reports its type and defining
// namespace, lists its children, and emits its computation through a
// Builder when traced. The package bundles a small operator library:
//
//   - nn: primitives (Linear, Conv2d, BatchNorm2d, ReLU, Identity, Dropout)
//     and the Sequential container
//   - nn.intrinsic: pre-fused composites (LinearReLU, ConvBn2d, ...)
//   - nn.quantized: FloatFunctional, FXFloatFunctional and the quantized
//     counterparts produced by conversion
//
// User-defined modules are built with Custom, which takes a forward function.
package nn
