package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stepchain/pkg/api"
)

// DefaultBasePath is the storage root for process instances when no base
// path is configured.
const DefaultBasePath = "/var/stepchain/instances"

var (
	// ErrAlreadyRan is returned when Run is invoked more than once.
	ErrAlreadyRan = errors.New("process instance already ran")

	// ErrNotBuilding is returned when a step is defined outside the
	// definition's BuildProcess hook.
	ErrNotBuilding = errors.New("step list is frozen; steps can only be defined during BuildProcess")
)

// Config describes how to construct an Instance. Definition, Store and
// Factory are required; everything else has working defaults.
type Config struct {
	Definition  api.ProcessDefinition
	Description string

	Store   api.Store
	Factory api.EngineFactory

	Observer api.Observer
	Logger   *slog.Logger

	// IDGen produces instance ids. Defaults to uuid.NewString.
	IDGen func() string

	// ServicePrincipal is the identity used for all status and error
	// writes, independent of the requesting user.
	ServicePrincipal string

	// BasePath is the storage root; the instance lives at
	// "<BasePath>/<id>".
	BasePath string

	// Concurrency is the worker count of each step's engine.
	Concurrency int
}

// Instance executes one linear chain of steps. It is a finite-state
// machine over {building, running(step), completed, aborted}, advanced by
// completion events that the step engines deliver over a channel; a single
// loop goroutine consumes the events, so all state transitions happen on
// one goroutine.
type Instance struct {
	cfg  Config
	id   string
	path string

	info api.StatusRecord

	steps     []stepDef
	buildOpen bool

	// current is the index of the active step; only the loop goroutine
	// moves it.
	current           int
	completedNormally bool

	events chan stepEvent
	halts  chan struct{}
	done   chan struct{}

	ranOnce  atomic.Bool
	haltOnce sync.Once
}

type stepDef struct {
	name     string
	engine   api.TaskEngine
	build    api.StepBuilder
	critical bool
	started  time.Time
}

type eventKind int

const (
	evSucceeded eventKind = iota
	evFailed
	evFinished
)

type stepEvent struct {
	step     int
	kind     eventKind
	failures []api.Failure
}

// Ensure Instance implements the public contract.
var _ api.ProcessInstance = (*Instance)(nil)

// New creates a process instance for the given definition.
func New(cfg Config) *Instance {
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDGen == nil {
		cfg.IDGen = uuid.NewString
	}
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if cfg.Description == "" {
		cfg.Description = "No description"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	id := cfg.IDGen()
	p := &Instance{
		cfg:    cfg,
		id:     id,
		path:   cfg.BasePath + "/" + id,
		events: make(chan stepEvent, 8),
		halts:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.info.Name = cfg.Definition.Name()
	p.info.Description = cfg.Description
	p.info.Status = api.StatusWaiting
	return p
}

func (p *Instance) ID() string   { return p.id }
func (p *Instance) Path() string { return p.path }

// Name is the display name of this instance.
func (p *Instance) Name() string {
	if p.info.Description != "" {
		return p.info.Name + ": " + p.info.Description
	}
	return p.info.Name
}

func (p *Instance) Info() *api.StatusRecord { return &p.info }

func (p *Instance) Done() <-chan struct{} { return p.done }

func (p *Instance) DefineStep(name string, build api.StepBuilder) (api.TaskEngine, error) {
	return p.defineStep(name, build, false)
}

func (p *Instance) DefineCriticalStep(name string, build api.StepBuilder) (api.TaskEngine, error) {
	return p.defineStep(name, build, true)
}

func (p *Instance) defineStep(name string, build api.StepBuilder, critical bool) (api.TaskEngine, error) {
	if !p.buildOpen {
		return nil, ErrNotBuilding
	}
	engine, err := p.cfg.Factory.Create(p.Name()+": "+name, p.cfg.ServicePrincipal, p.cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create engine for step %q: %w", name, err)
	}
	p.steps = append(p.steps, stepDef{
		name:     name,
		engine:   engine,
		build:    build,
		critical: critical,
	})
	return engine, nil
}

// Run records the requester and start time, asks the definition to parse
// inputs and build the step list, then begins execution at step 0. If the
// build phase fails, a synthetic failure is recorded at the pre-run
// sentinel index and the instance halts without executing any step.
func (p *Instance) Run(ctx context.Context, principal string, params map[string]any) error {
	if !p.ranOnce.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}

	p.info.Requester = principal
	p.info.StartTime = time.Now()
	p.info.Inputs = params

	// Fired before input parsing so every start is balanced by a halt
	// callback, including pre-run failures.
	p.cfg.Observer.OnProcessStart(ctx, p)

	if err := p.cfg.Definition.ParseInputs(params); err != nil {
		p.failBeforeRun(ctx, err)
		return err
	}

	p.buildOpen = true
	err := p.cfg.Definition.BuildProcess(ctx, p, principal)
	p.buildOpen = false
	if err != nil {
		p.failBeforeRun(ctx, err)
		return err
	}

	p.info.Running = true

	go p.loop(context.WithoutCancel(ctx))
	return nil
}

func (p *Instance) failBeforeRun(ctx context.Context, err error) {
	p.recordErrors(ctx, api.PreRunStep, []api.Failure{{
		Time: time.Now(),
		Step: api.PreRunStep,
		Path: p.path,
		Err:  err,
	}})
	p.cfg.Logger.Error("error starting process",
		slog.String("process", p.Name()),
		slog.String("instance_id", p.id),
		slog.Any("error", err),
	)
	p.finalize(ctx)
}

func (p *Instance) loop(ctx context.Context) {
	p.activate(ctx, 0)
	for {
		select {
		case <-p.done:
			return
		case <-p.halts:
			p.finalize(ctx)
			return
		case ev := <-p.events:
			p.handle(ctx, ev)
		}
	}
}

// activate makes the given step the active one. Past the last step it
// marks normal completion and finalizes instead.
func (p *Instance) activate(ctx context.Context, step int) {
	if step >= len(p.steps) {
		p.completedNormally = true
		p.finalize(ctx)
		return
	}

	p.current = step
	sd := &p.steps[step]
	sd.started = time.Now()

	p.UpdateProgress()
	p.info.Status = fmt.Sprintf("Step %d: %s", step+1, sd.name)
	p.asService(ctx, p.persistStatus)

	p.cfg.Observer.OnStepStart(ctx, p, sd.name, step)

	if sd.critical {
		sd.engine.OnSuccess(func() {
			p.events <- stepEvent{step: step, kind: evSucceeded}
		})
		sd.engine.OnFailure(func(failures []api.Failure) {
			p.events <- stepEvent{step: step, kind: evFailed, failures: failures}
		})
	} else {
		sd.engine.OnFailure(func(failures []api.Failure) {
			p.events <- stepEvent{step: step, kind: evFailed, failures: failures}
		})
		sd.engine.OnFinish(func() {
			p.events <- stepEvent{step: step, kind: evFinished}
		})
	}

	build := sd.build
	engine := sd.engine
	engine.Submit(p.path, func(ctx context.Context) error {
		return build(ctx, engine)
	})
}

func (p *Instance) handle(ctx context.Context, ev stepEvent) {
	if ev.step != p.current {
		// Stale event from an already-passed step.
		return
	}
	sd := &p.steps[ev.step]

	switch {
	case sd.critical && ev.kind == evSucceeded:
		p.cfg.Observer.OnStepCompleted(ctx, p, sd.name, ev.step, nil, time.Since(sd.started))
		p.activate(ctx, ev.step+1)

	case sd.critical && ev.kind == evFailed:
		p.recordErrors(ctx, ev.step, ev.failures)
		p.cfg.Observer.OnStepCompleted(ctx, p, sd.name, ev.step, ev.failures, time.Since(sd.started))
		p.finalize(ctx)

	case !sd.critical && ev.kind == evFailed:
		// Non-critical failures are recorded, and the chain advances
		// once the finish event arrives.
		p.recordErrors(ctx, ev.step, ev.failures)

	case !sd.critical && ev.kind == evFinished:
		p.cfg.Observer.OnStepCompleted(ctx, p, sd.name, ev.step, sd.engine.Failures(), time.Since(sd.started))
		p.activate(ctx, ev.step+1)
	}
}

// Halt requests termination. It is safe to call from any goroutine and is
// strictly idempotent. On a running instance the request is handed to the
// event loop, which owns every state transition; finalization therefore
// never races an in-flight step activation. An instance that was never run
// is finalized directly and can no longer be run.
func (p *Instance) Halt() {
	if p.ranOnce.CompareAndSwap(false, true) {
		p.finalize(context.Background())
		return
	}
	select {
	case p.halts <- struct{}{}:
	default:
		// A halt request is already pending, or the loop is gone.
	}
}

func (p *Instance) finalize(ctx context.Context) {
	p.haltOnce.Do(func() {
		p.info.StopTime = time.Now()
		p.info.Running = false
		if p.completedNormally {
			p.info.Status = api.StatusCompleted
			p.info.Progress = 1.0
		} else {
			p.info.Status = api.StatusAborted
		}

		p.asService(ctx, func(conn api.Conn) error {
			if err := p.persistStatus(conn); err != nil {
				return err
			}
			return p.cfg.Definition.StoreReport(ctx, p, conn)
		})

		for _, sd := range p.steps {
			p.cfg.Factory.Release(sd.engine)
		}

		p.cfg.Observer.OnProcessHalted(ctx, p, p.completedNormally)
		close(p.done)
	})
}

// UpdateProgress recomputes the aggregate progress, the status text, and
// the completed-unit counter from the step engines.
//
// Progress is the equal-weighted sum over steps of completed/added units;
// engines with nothing added contribute zero. The read races benignly with
// the active step's workers, which is tolerated because progress is
// advisory monitoring data.
func (p *Instance) UpdateProgress() float64 {
	if len(p.steps) == 0 {
		return p.info.Progress
	}

	weight := 1.0 / float64(len(p.steps))
	progress := 0.0
	completed := 0
	statusSet := false

	for _, sd := range p.steps {
		if added := sd.engine.AddedCount(); added > 0 {
			progress += weight * float64(sd.engine.CompletedCount()) / float64(added)
		}
		completed += sd.engine.CompletedCount()
		if !statusSet && !sd.engine.IsComplete() {
			// Name the first step still doing work. With every engine
			// complete the current status is left alone so a terminal
			// status survives later progress reads.
			p.info.Status = sd.name
			statusSet = true
		}
	}

	p.info.Progress = progress
	p.info.TasksCompleted = completed
	return progress
}

// asService runs fn within a scoped store connection under the service
// principal. Store errors are logged and swallowed; status bookkeeping
// must never change the business outcome of the chain.
func (p *Instance) asService(ctx context.Context, fn func(api.Conn) error) {
	if err := api.WithConn(ctx, p.cfg.Store, p.cfg.ServicePrincipal, fn); err != nil {
		p.cfg.Logger.Error("error while persisting process state",
			slog.String("process", p.Name()),
			slog.String("instance_id", p.id),
			slog.Any("error", err),
		)
	}
}

func (p *Instance) persistStatus(conn api.Conn) error {
	ctx := context.Background()
	if err := conn.EnsurePath(ctx, p.cfg.BasePath); err != nil {
		return err
	}
	return conn.Save(ctx, p.path, p.statusRecord())
}

func (p *Instance) statusRecord() api.Record {
	rec := api.Record{
		"name":           p.info.Name,
		"description":    p.info.Description,
		"title":          p.Name(),
		"status":         p.info.Status,
		"progress":       p.info.Progress,
		"startTime":      p.info.StartTime,
		"stopTime":       p.info.StopTime,
		"isRunning":      p.info.Running,
		"requester":      p.info.Requester,
		"tasksCompleted": p.info.TasksCompleted,
		"reportedErrors": len(p.info.Errors),
	}
	if p.info.Inputs != nil {
		rec["requestInputs"] = p.info.Inputs
	}
	return rec
}
