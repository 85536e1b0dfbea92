// Package capture implements the trigger-driven sampling engine.
//
// The engine turns rising edges of an external trigger line into an ordered
// stream of samples. Every accepted capture carries the current sequence
// number, after which the counter advances by exactly one; disabled captures
// produce nothing and leave the counter untouched.
//
// Each sample is handed to the Consumer synchronously, inside the same call
// that produced it. The consumer has finished with sample N before sample N+1
// exists.
//
// The engine is not safe for concurrent use. It is driven by a single control
// loop (see internal/engine).
package capture
