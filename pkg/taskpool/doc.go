// Package taskpool provides the built-in task engine: a fixed pool of
// worker goroutines executing submitted work units, with per-unit retry
// support and success/failure/finish completion callbacks.
//
// Each step of a process instance runs on its own pool, created through a
// Factory. The orchestrator submits the step's builder as the pool's first
// work unit; the builder may submit any number of further units before it
// returns. The pool completes once every submitted unit has finished, at
// which point the registered callbacks fire exactly once:
//
//   - OnSuccess callbacks, when no unit failed
//   - OnFailure callbacks (with the accumulated failures), otherwise
//   - OnFinish callbacks, in either case, last
//
// Pools are torn down through Factory.Release; pending queued work is
// discarded at that point.
package taskpool
