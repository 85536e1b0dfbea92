// Package harness runs scripted bench scenarios against the engine and
// checks the resulting trace.
//
// # Scenario Format
//
//	name: overcurrent_trip
//	description: "Over-current on iout forces SAFE"
//	preset: four
//	policy: { debounce: 16, threshold: 4 }
//	steps:
//	  - set_adc: { channel: 2, value: 3000 }
//	  - capture_enable: true
//	  - power_on: true
//	    expect: { state: RUN, power_enable: true }
//	  - set_adc: { channel: 2, value: 0x1800 }
//	  - trigger: 5
//	    expect: { state: SAFE, violation: OVER_CURRENT@ch2 }
//	assertions:
//	  - type: trace_count
//	    effect: tripped
//	    count: 1
//	  - type: trace_order
//	    states: [IDLE, RUN, SAFE]
//	  - type: seq_contiguous
//	  - type: replay
//
// Every step holds exactly one action. trigger and tick take a repeat
// count. expect is a subset match over the governor outputs after the step,
// plus the runtime error code the step must fail with, if any.
//
// # Assertion Types
//
//   - trace_contains: some cycle matches the event/cause/state/effect filters
//   - trace_count: exactly count cycles match the filters
//   - trace_order: the listed states were visited in order
//   - final_state: the final outputs match, live and as recorded
//   - seq_contiguous: accepted samples are numbered without gaps
//   - replay: re-executing the recording reproduces every evaluation
//
// # Deterministic Testing
//
// Each scenario runs on a fresh engine with a fixed run id and an in-memory
// store, so the trace and its digest are identical on every run and can be
// compared against golden files.
package harness
