// Package store records control-loop runs in SQLite.
//
// A recording has three tables:
//   - runs: one row per run, holding the channel table and policy it used
//   - inputs: every control event, keyed by (run_id, cycle)
//   - evaluations: every governor cycle, with its outputs and digest
//
// Ordering is always by the engine's logical cycle counter, never by wall
// time, so a recording read back twice yields identical slices. Replaying a
// run feeds its inputs, in cycle order, into a fresh engine (see
// internal/engine).
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
