// Package config holds the canonical configuration objects of the
// pipeline stages and converts the legacy dictionary forms into them.
//
// Canonical objects are immutable values: With methods return modified
// copies. Every Normalize function accepts nil, the canonical value, a
// pointer to it, or the legacy map[string]any form, and is idempotent.
// The legacy form logs one deprecation warning per config kind per
// process.
package config
