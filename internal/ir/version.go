package ir

// Version constants for the IR schema and the compiler.
const (
	// IRVersion is the graph IR schema version.
	IRVersion = "1"

	// CompilerVersion is the fxq pipeline version recorded with every unit.
	CompilerVersion = "0.1.0"
)
