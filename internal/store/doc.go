// Package store provides SQLite-backed durable storage for compilation logs.
//
// A compilation log records every unit a pipeline run compiles (the
// top-level module and each standalone unit inside it) and every stage
// transition of each unit:
//   - units: one row per compilation unit, linked to its parent unit
//   - stages: node count, fingerprint and canonical graph JSON per stage
//   - node_scopes: the scope map captured when the unit was traced
//
// Rows are never updated. Queries order by the seq logical clock, then by
// id COLLATE BINARY, so reads are identical across runs.
//
// # Database Configuration
//
// File logs run in WAL mode with synchronous=NORMAL, a 5 second busy
// timeout and foreign keys enforced. MemoryPath logs skip WAL. The schema
// version lives in user_version and Open applies pending migrations.
package store
