// Package engine drives a capture engine and a boundary governor from a
// single stream of external events.
//
// # Event Loop
//
// Every stimulus (reset, capture enable, trigger, ADC input change, power-on
// request, envelope change, idle tick) is an Event. Events are applied one at
// a time, either directly with Step or through Enqueue and the Run loop. Each
// event takes exactly one logical cycle from the engine's Clock; wall time
// never orders anything.
//
// A trigger that is accepted produces a sample, and the sample is handed to
// the governor in the same cycle. Reset, tick and power-on events also run a
// governor evaluation. Capture enable, input changes and envelope staging do
// not; staged envelopes take effect at the start of the next evaluation.
//
// # Side Effects
//
// For every evaluation the engine:
//
//   - publishes a status frame, plus a sample frame when a sample was
//     captured and a fault frame when the governor tripped
//   - records the event and the evaluation through the Recorder
//   - hashes the cycle number and outputs into an evaluation digest
//
// Non-evaluating events are still recorded as inputs, so a recording is the
// complete event list and Replay can re-execute it.
//
// Publish and record failures are logged and counted; the governor's
// decisions never wait on, or depend on, anything downstream.
package engine
