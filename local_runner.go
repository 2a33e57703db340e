package stepchain

import (
	"context"
	"sync"

	"github.com/petrijr/stepchain/pkg/taskpool"
)

// LocalRunner bundles an in-memory store and a pooled engine factory to
// provide a simple process runner for development, tests, and
// single-process deployments.
//
// Typical usage:
//
//	runner := stepchain.NewLocalRunner()
//	defer runner.Stop()
//
//	def := stepchain.Define("my-process").Step(...).Definition()
//	inst, err := runner.Start(ctx, def, "alice", params)
//	if err != nil { ... }
//	if err := runner.Wait(ctx, inst); err != nil { ... }
type LocalRunner struct {
	// Store is the in-memory status store shared by all instances
	// started through this runner.
	Store Store

	// Factory creates the per-step task engines.
	Factory *taskpool.Factory

	mu        sync.Mutex
	instances []ProcessInstance
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory store and
// a taskpool factory with the given options.
func NewLocalRunner(opts ...taskpool.Option) *LocalRunner {
	return &LocalRunner{
		Store:   NewMemoryStore(),
		Factory: taskpool.NewFactory(opts...),
	}
}

// Start creates a process instance for def and runs it as principal with
// the given parameters. The returned instance is already executing; use
// Wait or inst.Done to observe completion.
//
// A build or parse failure is reported both through the returned error and
// through the instance's aborted status.
func (r *LocalRunner) Start(ctx context.Context, def ProcessDefinition, principal string, params map[string]any, opts ...Option) (ProcessInstance, error) {
	opts = append([]Option{
		WithStore(r.Store),
		WithEngineFactory(r.Factory),
	}, opts...)
	inst := NewProcess(def, opts...)

	r.mu.Lock()
	r.instances = append(r.instances, inst)
	r.mu.Unlock()

	if err := inst.Run(ctx, principal, params); err != nil {
		return inst, err
	}
	return inst, nil
}

// Wait blocks until the instance halts or the context is cancelled.
func (r *LocalRunner) Wait(ctx context.Context, inst ProcessInstance) error {
	select {
	case <-inst.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Instances returns every instance started through this runner.
func (r *LocalRunner) Instances() []ProcessInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProcessInstance(nil), r.instances...)
}

// Stop halts any instance that is still running and releases every engine
// the factory still tracks.
func (r *LocalRunner) Stop() {
	for _, inst := range r.Instances() {
		select {
		case <-inst.Done():
		default:
			inst.Halt()
		}
	}
	r.Factory.ReleaseAll()
}
