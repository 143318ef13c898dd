// Package qconfig defines quantization policies and the mapping that
// assigns them to operations by module name, name pattern, object type
// and occurrence.
package qconfig
