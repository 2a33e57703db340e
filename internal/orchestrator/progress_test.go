package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/stepchain/internal/persistence"
	"github.com/petrijr/stepchain/pkg/api"
	"github.com/petrijr/stepchain/pkg/taskpool"
)

func TestUpdateProgressWeighsStepsEqually(t *testing.T) {
	p := newTestInstance(&testDef{}, nil, nil)
	p.steps = []stepDef{
		{name: "half done", engine: &stubEngine{added: 4, completed: 2}},
		{name: "not started", engine: &stubEngine{}},
	}

	got := p.UpdateProgress()
	if got != 0.25 {
		t.Fatalf("expected progress 0.25, got %v", got)
	}
	if p.info.Status != "half done" {
		t.Fatalf("expected status of first incomplete step, got %q", p.info.Status)
	}
	if p.info.TasksCompleted != 2 {
		t.Fatalf("expected 2 completed tasks, got %d", p.info.TasksCompleted)
	}
}

func TestUpdateProgressSkipsIdleEngines(t *testing.T) {
	p := newTestInstance(&testDef{}, nil, nil)
	p.steps = []stepDef{
		{name: "done", engine: &stubEngine{added: 3, completed: 3, complete: true}},
		{name: "idle", engine: &stubEngine{}},
	}

	// The idle engine has no units, so only the finished step counts.
	if got := p.UpdateProgress(); got != 0.5 {
		t.Fatalf("expected progress 0.5, got %v", got)
	}
	if p.info.Status != "idle" {
		t.Fatalf("expected status %q, got %q", "idle", p.info.Status)
	}
}

func TestUpdateProgressFullChainIsExactlyOne(t *testing.T) {
	p := newTestInstance(&testDef{}, nil, nil)
	p.steps = []stepDef{
		{name: "a", engine: &stubEngine{added: 7, completed: 7, complete: true}},
		{name: "b", engine: &stubEngine{added: 1, completed: 1, complete: true}},
		{name: "c", engine: &stubEngine{added: 12, completed: 12, complete: true}},
	}

	if got := p.UpdateProgress(); got != 1.0 {
		t.Fatalf("expected progress exactly 1.0, got %v", got)
	}
}

func TestUpdateProgressPreservesTerminalStatus(t *testing.T) {
	p := newTestInstance(&testDef{}, nil, nil)
	p.steps = []stepDef{
		{name: "a", engine: &stubEngine{added: 1, completed: 1, complete: true}},
	}
	p.info.Status = api.StatusCompleted

	p.UpdateProgress()
	if p.info.Status != api.StatusCompleted {
		t.Fatalf("terminal status clobbered, got %q", p.info.Status)
	}
}

func TestStatisticsCountsPerEngine(t *testing.T) {
	p := newTestInstance(&testDef{name: "import"}, nil, nil)
	p.steps = []stepDef{
		{name: "a", engine: &stubEngine{added: 5, completed: 5, successes: 4, errors: 1, complete: true}},
		{name: "b", engine: &stubEngine{added: 2, completed: 1, successes: 1}},
	}

	stats := p.Statistics()
	if stats.ID != p.ID() {
		t.Fatalf("expected id %q, got %q", p.ID(), stats.ID)
	}
	if stats.TaskName != "import: No description" {
		t.Fatalf("unexpected task name %q", stats.TaskName)
	}
	if stats.Started != 2 {
		t.Fatalf("expected 2 started steps, got %d", stats.Started)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected 1 complete step, got %d", stats.Completed)
	}
	if stats.Successful != 5 {
		t.Fatalf("expected 5 successful units, got %d", stats.Successful)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 errored unit, got %d", stats.Errors)
	}
	if stats.PctComplete != 0.5+0.25 {
		t.Fatalf("expected 0.75 complete, got %v", stats.PctComplete)
	}
}

func TestHaltIsIdempotent(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{prepared: []api.TaskEngine{&stubEngine{label: "stuck"}}}

	def := &testDef{
		build: func(ctx context.Context, inst api.ProcessInstance, principal string) error {
			_, err := inst.DefineStep("stuck", func(ctx context.Context, e api.TaskEngine) error { return nil })
			return err
		},
	}

	p := newTestInstance(def, factory, nil)
	if err := p.Run(ctx, "alice", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Give the loop a moment to activate the stuck step.
	time.Sleep(20 * time.Millisecond)

	p.Halt()
	if !waitDone(p) {
		t.Fatal("instance did not halt")
	}
	stop := p.Info().StopTime

	p.Halt()
	p.Halt()

	if !p.Info().StopTime.Equal(stop) {
		t.Fatal("repeated Halt moved the stop time")
	}
	if got := factory.releaseCount(); got != 1 {
		t.Fatalf("expected each engine released exactly once, got %d releases", got)
	}
	if got := p.Info().Status; got != api.StatusAborted {
		t.Fatalf("expected status %q, got %q", api.StatusAborted, got)
	}
	if p.Info().StopTime.Before(p.Info().StartTime) {
		t.Fatal("stop time precedes start time")
	}
}

// Halting while a step's work is in flight must leave the terminal status
// in place: releasing the active engine makes its cancelled work report
// failure events, and those must not re-activate the next step.
func TestHaltDuringActiveStepStaysAborted(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		factory := taskpool.NewFactory()
		var secondBuilt atomic.Bool

		def := &testDef{
			build: func(ctx context.Context, inst api.ProcessInstance, principal string) error {
				if _, err := inst.DefineStep("blocked", func(ctx context.Context, e api.TaskEngine) error {
					e.Submit("/content/blocked", func(ctx context.Context) error {
						<-ctx.Done()
						return ctx.Err()
					})
					return nil
				}); err != nil {
					return err
				}
				_, err := inst.DefineStep("after", func(ctx context.Context, e api.TaskEngine) error {
					secondBuilt.Store(true)
					return nil
				})
				return err
			},
		}

		p := newTestInstance(def, factory, nil)
		if err := p.Run(ctx, "alice", nil); err != nil {
			t.Fatalf("iteration %d: Run failed: %v", i, err)
		}

		p.Halt()
		if !waitDone(p) {
			t.Fatalf("iteration %d: instance did not halt", i)
		}

		// Let any stray transition from the released engine surface.
		time.Sleep(time.Millisecond)

		if got := p.Info().Status; got != api.StatusAborted {
			t.Fatalf("iteration %d: terminal status clobbered after Halt: %q", i, got)
		}
		if secondBuilt.Load() {
			t.Fatalf("iteration %d: next step activated after Halt", i)
		}
		factory.ReleaseAll()
	}
}

func TestHaltBeforeRun(t *testing.T) {
	p := newTestInstance(&testDef{}, nil, nil)

	p.Halt()
	if !waitDone(p) {
		t.Fatal("instance did not halt")
	}
	if got := p.Info().Status; got != api.StatusAborted {
		t.Fatalf("expected status %q, got %q", api.StatusAborted, got)
	}

	if err := p.Run(context.Background(), "alice", nil); !errors.Is(err, ErrAlreadyRan) {
		t.Fatalf("expected ErrAlreadyRan after Halt, got %v", err)
	}
}

// Failures are laid out one record per error under the step's failure
// folder, keyed by the 1-based step index.
func TestFailuresPersistedPerStep(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	def := &testDef{
		build: func(ctx context.Context, inst api.ProcessInstance, principal string) error {
			_, err := inst.DefineStep("flaky", func(ctx context.Context, e api.TaskEngine) error {
				e.Submit("/content/x", func(ctx context.Context) error {
					return errors.New("first")
				})
				e.Submit("/content/y", func(ctx context.Context) error {
					return errors.New("second")
				})
				return nil
			})
			return err
		},
	}

	p := newTestInstance(def, nil, store)
	if err := p.Run(ctx, "alice", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !waitDone(p) {
		t.Fatal("instance did not halt")
	}

	folder := p.Path() + "/failures/step1"
	if !store.PathExists(folder) {
		t.Fatalf("failure folder %q was not created", folder)
	}

	rec, err := store.Load(folder + "/err0")
	if err != nil {
		t.Fatalf("first failure record missing: %v", err)
	}
	if rec["error"] != "first" {
		t.Fatalf("unexpected first failure record: %v", rec)
	}
	if rec["step"] != 1 {
		t.Fatalf("expected 1-based step index in record, got %v", rec["step"])
	}

	rec, err = store.Load(folder + "/err1")
	if err != nil {
		t.Fatalf("second failure record missing: %v", err)
	}
	if rec["error"] != "second" {
		t.Fatalf("unexpected second failure record: %v", rec)
	}

	if _, err := store.Load(folder + "/err2"); err == nil {
		t.Fatal("unexpected third failure record")
	}
}

// An empty failure list must not touch the store at all.
func TestRecordErrorsEmptyIsPureNoOp(t *testing.T) {
	store := &recordingStore{inner: persistence.NewMemoryStore()}
	p := newTestInstance(&testDef{}, nil, store)

	p.recordErrors(context.Background(), 0, nil)
	p.recordErrors(context.Background(), 0, []api.Failure{})

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.opens != 0 {
		t.Fatalf("expected no store connections, got %d", store.opens)
	}
	if len(p.info.Errors) != 0 {
		t.Fatalf("expected no recorded errors, got %d", len(p.info.Errors))
	}
}

func TestStatusRecordPersistedOnHalt(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	p := newTestInstance(&testDef{name: "noop"}, nil, store)
	if err := p.Run(ctx, "alice", map[string]any{"dryRun": true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !waitDone(p) {
		t.Fatal("instance did not halt")
	}

	rec, err := store.Load(p.Path())
	if err != nil {
		t.Fatalf("status record missing: %v", err)
	}
	if rec["status"] != api.StatusCompleted {
		t.Fatalf("expected persisted status %q, got %v", api.StatusCompleted, rec["status"])
	}
	if rec["isRunning"] != false {
		t.Fatalf("expected isRunning=false, got %v", rec["isRunning"])
	}
	if rec["requester"] != "alice" {
		t.Fatalf("expected requester alice, got %v", rec["requester"])
	}
}
