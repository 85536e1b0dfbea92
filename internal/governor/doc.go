// Package governor implements the boundary governor: envelope classification
// and the IDLE/RUN/SAFE supervisory state machine.
//
// Every evaluation cycle runs in the same order:
//
//  1. Commit staged envelope changes (configuration only takes effect at a
//     cycle boundary, never mid-scan).
//  2. Latch the incoming sample, if any.
//  3. Classify the latched value of every channel. The scan never stops at
//     the first clean or first violating channel.
//  4. Update the recovery debounce.
//  5. Run Transition, a pure function of (state, inputs).
//  6. Publish Outputs.
//
// Violations are data, not errors. The only error this package returns is a
// *ConfigError, from configuration calls.
//
// Recovery from SAFE needs two things. The debounce window must be armed:
// the tripping channel has been re-sampled inside its envelope, followed by
// DebounceCycles consecutive clean cycles. Then a fresh power-on request must
// arrive. A request that arrives early is ignored and flagged as a spurious
// recovery attempt.
package governor
