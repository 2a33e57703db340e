package api

import (
	"context"
	"time"
)

// Well-known status texts for a process instance.
//
// While a step is active the status text is "Step <n>: <name>" for the
// active step (see ProcessInstance.UpdateProgress); these constants cover
// the terminal and in-between states.
const (
	StatusCompleted = "Completed"
	StatusAborted   = "Aborted"
	StatusWaiting   = "Please wait..."
)

// PreRunStep is the sentinel step index used for failures that occur before
// any step has executed, i.e. while the process definition is parsing inputs
// or building the step list.
const PreRunStep = -1

// Failure is one recorded error together with its originating context.
type Failure struct {
	// Time is when the failure was observed.
	Time time.Time

	// Step is the 0-based index of the step that produced the failure,
	// or PreRunStep for failures raised before execution began.
	Step int

	// Path is the location the failing work unit was operating on,
	// or the instance path for pre-run failures.
	Path string

	// Err is the underlying error.
	Err error
}

// StatusRecord is the shared mutable snapshot of a running process.
//
// It is owned by the orchestrator; external readers should treat the values
// as advisory monitoring data. Progress and TasksCompleted are recomputed on
// every step activation, Errors grows append-only within one run.
type StatusRecord struct {
	Name        string
	Description string

	// Status is a human-readable status text. It is StatusCompleted or
	// StatusAborted once the instance has halted.
	Status string

	// Progress is the equal-weighted fractional completion across all
	// steps, always in [0,1].
	Progress float64

	// StartTime is set exactly once when Run is invoked.
	// StopTime is set exactly once when the instance halts; its zero
	// value means "not yet stopped".
	StartTime time.Time
	StopTime  time.Time

	Running   bool
	Requester string

	// Inputs are the raw request parameters handed to Run.
	Inputs map[string]any

	// Errors is the ordered, append-only error log.
	Errors []Failure

	// TasksCompleted is the sum of completed work units across all
	// step engines, refreshed on every progress recomputation.
	TasksCompleted int
}

// Runtime returns the elapsed runtime of the process: stop-start once the
// instance has halted, now-start while it is still running.
func (s *StatusRecord) Runtime() time.Duration {
	stop := time.Now()
	if s.StopTime.After(s.StartTime) {
		stop = s.StopTime
	}
	return stop.Sub(s.StartTime)
}

// StepBuilder populates a step's task engine with work units. It is invoked
// exactly once, as the engine's initial work unit, when the step becomes
// active. It may call TaskEngine.Submit any number of times before returning.
type StepBuilder func(ctx context.Context, engine TaskEngine) error

// ProcessInstance is one run of a process definition: an ordered chain of
// steps, each delegated to its own task engine, executed front to back.
//
// Instances are single-shot: Run must be called at most once, and the step
// list is frozen the moment Run invokes the definition's BuildProcess hook.
type ProcessInstance interface {
	// ID is the opaque unique identifier of this instance.
	ID() string

	// Path is the storage path of this instance, "<base>/<id>".
	Path() string

	// Name is the display name, "<definition name>: <description>".
	Name() string

	// Info returns the live status record. See StatusRecord for the
	// concurrency caveats.
	Info() *StatusRecord

	// DefineStep appends a non-critical step: its failures are recorded
	// but do not stop the chain. Returns the step's task engine.
	DefineStep(name string, build StepBuilder) (TaskEngine, error)

	// DefineCriticalStep appends a critical step: any failure aborts the
	// remaining chain.
	DefineCriticalStep(name string, build StepBuilder) (TaskEngine, error)

	// Run records the requester and start time, asks the definition to
	// parse inputs and build the step list, and starts execution at step
	// 0. It returns once execution has been started (or aborted during
	// build); use Done to wait for the chain to finish.
	Run(ctx context.Context, principal string, params map[string]any) error

	// Halt requests that the instance finalize: stop time, running=false,
	// terminal status text, final persist, report storage, engine release.
	// It is idempotent and may return before finalization has completed;
	// use Done to wait for it.
	Halt()

	// Done is closed when the instance has halted.
	Done() <-chan struct{}

	// UpdateProgress recomputes and returns the aggregate progress.
	UpdateProgress() float64

	// Statistics builds an immutable monitoring row for this instance.
	Statistics() Statistics
}

// ProcessDefinition supplies what a process actually does: input parsing,
// step registration, and an optional post-run report.
//
// Definitions are stateless from the orchestrator's point of view; one
// definition may back any number of instances.
type ProcessDefinition interface {
	// Name is the definition's display name.
	Name() string

	// ParseInputs validates and deserializes the request parameters.
	// An error aborts the instance before any step is defined.
	ParseInputs(params map[string]any) error

	// BuildProcess registers the ordered step list on the instance via
	// DefineStep / DefineCriticalStep. principal is the identity of the
	// requesting user, for authorization checks.
	BuildProcess(ctx context.Context, inst ProcessInstance, principal string) error

	// StoreReport persists a definition-specific report when the
	// instance halts. conn is an open connection under the service
	// principal; implementations should not commit or close it.
	StoreReport(ctx context.Context, inst ProcessInstance, conn Conn) error
}
