// Package fx holds GraphModule, the unit of work passed between pipeline
// stages: a traced graph, the modules its call_module nodes refer to,
// preserved attributes and the stage it has reached.
package fx
