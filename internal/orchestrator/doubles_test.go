package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/stepchain/pkg/api"
)

// syncEngine is a synchronous task engine double: Submit runs the work
// unit inline and fires the completion callbacks on the caller's
// goroutine. Nested submissions (a builder spawning more units) are
// tracked with a depth counter so completion only fires once the
// outermost unit has returned.
type syncEngine struct {
	label     string
	principal string

	added     int
	completed int
	successes int
	errors    int
	depth     int
	complete  bool

	failures  []api.Failure
	onSuccess []func()
	onFailure []func([]api.Failure)
	onFinish  []func()
}

var _ api.TaskEngine = (*syncEngine)(nil)

func (e *syncEngine) Label() string       { return e.label }
func (e *syncEngine) AddedCount() int     { return e.added }
func (e *syncEngine) CompletedCount() int { return e.completed }
func (e *syncEngine) SuccessCount() int   { return e.successes }
func (e *syncEngine) ErrorCount() int     { return e.errors }
func (e *syncEngine) IsComplete() bool    { return e.complete }

func (e *syncEngine) Failures() []api.Failure {
	out := make([]api.Failure, len(e.failures))
	copy(out, e.failures)
	return out
}

func (e *syncEngine) OnSuccess(fn func())               { e.onSuccess = append(e.onSuccess, fn) }
func (e *syncEngine) OnFailure(fn func([]api.Failure))  { e.onFailure = append(e.onFailure, fn) }
func (e *syncEngine) OnFinish(fn func())                { e.onFinish = append(e.onFinish, fn) }

func (e *syncEngine) Submit(path string, work api.Work) {
	e.added++
	e.depth++
	err := work(context.Background())
	e.depth--
	e.completed++
	if err != nil {
		e.errors++
		e.failures = append(e.failures, api.Failure{
			Time: time.Now(),
			Path: path,
			Err:  err,
		})
	} else {
		e.successes++
	}
	if e.depth == 0 && e.completed == e.added {
		e.finish()
	}
}

func (e *syncEngine) finish() {
	if e.complete {
		return
	}
	e.complete = true
	if len(e.failures) == 0 {
		for _, fn := range e.onSuccess {
			fn()
		}
	} else {
		for _, fn := range e.onFailure {
			fn(e.Failures())
		}
	}
	for _, fn := range e.onFinish {
		fn()
	}
}

// stubEngine is an inert engine double with preset counters. Submitted
// work is recorded but never executed, so a step backed by it stays
// active forever.
type stubEngine struct {
	label     string
	added     int
	completed int
	successes int
	errors    int
	complete  bool
	submitted int
}

var _ api.TaskEngine = (*stubEngine)(nil)

func (e *stubEngine) Label() string                    { return e.label }
func (e *stubEngine) AddedCount() int                  { return e.added }
func (e *stubEngine) CompletedCount() int              { return e.completed }
func (e *stubEngine) SuccessCount() int                { return e.successes }
func (e *stubEngine) ErrorCount() int                  { return e.errors }
func (e *stubEngine) IsComplete() bool                 { return e.complete }
func (e *stubEngine) Failures() []api.Failure          { return nil }
func (e *stubEngine) OnSuccess(func())                 {}
func (e *stubEngine) OnFailure(func([]api.Failure))    {}
func (e *stubEngine) OnFinish(func())                  {}
func (e *stubEngine) Submit(string, api.Work)          { e.submitted++; e.added++ }

// fakeFactory hands out a fixed sequence of engines, or fresh syncEngines
// when the sequence is exhausted. It counts releases.
type fakeFactory struct {
	mu       sync.Mutex
	prepared []api.TaskEngine
	created  []api.TaskEngine
	released []api.TaskEngine
}

var _ api.EngineFactory = (*fakeFactory)(nil)

func (f *fakeFactory) Create(label, principal string, concurrency int) (api.TaskEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var e api.TaskEngine
	if len(f.prepared) > 0 {
		e = f.prepared[0]
		f.prepared = f.prepared[1:]
	} else {
		e = &syncEngine{label: label, principal: principal}
	}
	f.created = append(f.created, e)
	return e, nil
}

func (f *fakeFactory) Release(engine api.TaskEngine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, engine)
}

func (f *fakeFactory) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.released)
}

// testDef is a function-backed process definition for tests.
type testDef struct {
	name   string
	parse  func(map[string]any) error
	build  func(ctx context.Context, inst api.ProcessInstance, principal string) error
	report func(ctx context.Context, inst api.ProcessInstance, conn api.Conn) error
}

var _ api.ProcessDefinition = (*testDef)(nil)

func (d *testDef) Name() string {
	if d.name == "" {
		return "test-process"
	}
	return d.name
}

func (d *testDef) ParseInputs(params map[string]any) error {
	if d.parse == nil {
		return nil
	}
	return d.parse(params)
}

func (d *testDef) BuildProcess(ctx context.Context, inst api.ProcessInstance, principal string) error {
	if d.build == nil {
		return nil
	}
	return d.build(ctx, inst, principal)
}

func (d *testDef) StoreReport(ctx context.Context, inst api.ProcessInstance, conn api.Conn) error {
	if d.report == nil {
		return nil
	}
	return d.report(ctx, inst, conn)
}

// recordingStore wraps a Store and counts connection opens, commits, and
// writes, remembering the principal of the last open.
type recordingStore struct {
	inner api.Store

	mu            sync.Mutex
	opens         int
	commits       int
	saves         int
	ensures       int
	lastPrincipal string
}

var _ api.Store = (*recordingStore)(nil)

func (s *recordingStore) Open(ctx context.Context, principal string) (api.Conn, error) {
	s.mu.Lock()
	s.opens++
	s.lastPrincipal = principal
	s.mu.Unlock()
	conn, err := s.inner.Open(ctx, principal)
	if err != nil {
		return nil, err
	}
	return &recordingConn{inner: conn, store: s}, nil
}

type recordingConn struct {
	inner api.Conn
	store *recordingStore
}

func (c *recordingConn) EnsurePath(ctx context.Context, path string) error {
	c.store.mu.Lock()
	c.store.ensures++
	c.store.mu.Unlock()
	return c.inner.EnsurePath(ctx, path)
}

func (c *recordingConn) Save(ctx context.Context, path string, rec api.Record) error {
	c.store.mu.Lock()
	c.store.saves++
	c.store.mu.Unlock()
	return c.inner.Save(ctx, path, rec)
}

func (c *recordingConn) Dirty() bool { return c.inner.Dirty() }

func (c *recordingConn) Commit(ctx context.Context) error {
	c.store.mu.Lock()
	c.store.commits++
	c.store.mu.Unlock()
	return c.inner.Commit(ctx)
}

func (c *recordingConn) Close() error { return c.inner.Close() }

func waitDone(p *Instance) bool {
	select {
	case <-p.Done():
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}
