// Package modelspec compiles declarative model descriptions into nn
// module trees.
//
// A description is a YAML or CUE document naming a set of module
// definitions and the one used as the root:
//
//	model: Net
//	definitions:
//	  Net:
//	    inputs: [x]
//	    modules:
//	      - {name: fc, type: Linear, params: {in_features: 4, out_features: 4}}
//	      - {name: relu, type: ReLU}
//	      - {name: block, type: Block}
//	    forward:
//	      - {call: fc, args: [x], out: h}
//	      - {call: relu, args: [h], out: h}
//	      - {call: block, args: [h], out: y}
//	      - {function: add, args: [y, x], out: y}
//	    output: y
//	  Block:
//	    modules:
//	      - {name: inner, type: Linear}
//
// A module declaration's type names another definition or a library
// module ("Linear", "nn.Linear", "FloatFunctional", ...). Definitions
// shadow library types of the same short name. A definition without a
// forward chains its modules in declaration order.
//
// Forward steps run in order and bind their result to out. A string
// argument must name a bound value. Numbers and booleans are literals; a
// literal string is written {literal: reflect}.
package modelspec
