package api

import "context"

// Work is a single unit of work executed by a task engine.
type Work func(ctx context.Context) error

// TaskEngine executes work units for one step and tracks their outcome.
//
// Engines complete when every submitted unit has finished and the initial
// (builder) unit has returned, so no further submissions can arrive. On
// completion the engine fires its registered callbacks: success callbacks if
// no unit failed, failure callbacks (with the accumulated failure list)
// otherwise, and finish callbacks in either case.
type TaskEngine interface {
	// Label is the engine's display label, typically
	// "<process name>: <step name>".
	Label() string

	// AddedCount is the number of work units submitted so far.
	AddedCount() int

	// CompletedCount is the number of units that have finished,
	// successfully or not.
	CompletedCount() int

	// SuccessCount is the number of units that finished without error.
	SuccessCount() int

	// ErrorCount is the number of units that finished with an error.
	ErrorCount() int

	// IsComplete reports whether the engine has finished all its work.
	IsComplete() bool

	// Failures returns the ordered failures observed so far.
	Failures() []Failure

	// OnSuccess registers a callback fired on completion when no unit
	// failed. Callbacks must be registered before work is submitted.
	OnSuccess(func())

	// OnFailure registers a callback fired on completion when at least
	// one unit failed, receiving the full failure list.
	OnFailure(func(failures []Failure))

	// OnFinish registers a callback fired on completion regardless of
	// outcome, after any success or failure callbacks.
	OnFinish(func())

	// Submit enqueues one unit of work operating on the given path.
	// Submissions are only valid before the engine completes, i.e. from
	// the caller that seeds the engine or from a running work unit.
	Submit(path string, work Work)
}

// EngineFactory creates and releases task engines. Each step of a process
// instance gets its own engine; the orchestrator releases all of them when
// the instance halts.
type EngineFactory interface {
	// Create returns a new engine with the given display label,
	// principal, and worker concurrency (minimum 1).
	Create(label, principal string, concurrency int) (TaskEngine, error)

	// Release tears down an engine created by this factory.
	// Releasing an engine that is still running discards pending work.
	Release(engine TaskEngine)
}
