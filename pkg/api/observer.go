package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestrator for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay step execution.
type Observer interface {
	// OnProcessStart is called once when Run is invoked, before the
	// definition parses its inputs. Every start is eventually balanced
	// by an OnProcessHalted call, including pre-run failures.
	OnProcessStart(ctx context.Context, inst ProcessInstance)

	// OnStepStart is called when a step becomes active, before its
	// builder is submitted. stepIndex is 0-based.
	OnStepStart(ctx context.Context, inst ProcessInstance, stepName string, stepIndex int)

	// OnStepCompleted is called when a step's engine completes, for both
	// successes and failures (len(failures) > 0).
	OnStepCompleted(ctx context.Context, inst ProcessInstance, stepName string, stepIndex int, failures []Failure, duration time.Duration)

	// OnProcessHalted is called exactly once when the instance halts.
	// completedNormally is true when the chain reached the end without a
	// critical failure.
	OnProcessHalted(ctx context.Context, inst ProcessInstance, completedNormally bool)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnProcessStart(ctx context.Context, inst ProcessInstance) {}
func (NoopObserver) OnStepStart(ctx context.Context, inst ProcessInstance, stepName string, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, inst ProcessInstance, stepName string, idx int, failures []Failure, d time.Duration) {
}
func (NoopObserver) OnProcessHalted(ctx context.Context, inst ProcessInstance, completedNormally bool) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnProcessStart(ctx context.Context, inst ProcessInstance) {
	for _, o := range c.observers {
		o.OnProcessStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, inst ProcessInstance, stepName string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, inst, stepName, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, inst ProcessInstance, stepName string, idx int, failures []Failure, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, inst, stepName, idx, failures, d)
	}
}

func (c *CompositeObserver) OnProcessHalted(ctx context.Context, inst ProcessInstance, completedNormally bool) {
	for _, o := range c.observers {
		o.OnProcessHalted(ctx, inst, completedNormally)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs process / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnProcessStart(ctx context.Context, inst ProcessInstance) {
	o.Logger.InfoContext(ctx, "process_start",
		slog.String("process", inst.Name()),
		slog.String("instance_id", inst.ID()),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, inst ProcessInstance, stepName string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("process", inst.Name()),
		slog.String("instance_id", inst.ID()),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, inst ProcessInstance, stepName string, idx int, failures []Failure, d time.Duration) {
	level := slog.LevelDebug
	if len(failures) > 0 {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("process", inst.Name()),
		slog.String("instance_id", inst.ID()),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Int("failures", len(failures)),
	)
}

func (o *LoggingObserver) OnProcessHalted(ctx context.Context, inst ProcessInstance, completedNormally bool) {
	level := slog.LevelInfo
	if !completedNormally {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "process_halted",
		slog.String("process", inst.Name()),
		slog.String("instance_id", inst.ID()),
		slog.Bool("completed_normally", completedNormally),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	processesStarted  atomic.Int64
	processesHalted   atomic.Int64
	processesAborted  atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ProcessesStarted  int64
	ProcessesHalted   int64
	ProcessesAborted  int64
	RunningProcesses  int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnProcessStart(ctx context.Context, inst ProcessInstance) {
	m.processesStarted.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, inst ProcessInstance, stepName string, idx int, failures []Failure, d time.Duration) {
	// Only count clean steps for the average duration.
	if len(failures) == 0 {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnProcessHalted(ctx context.Context, inst ProcessInstance, completedNormally bool) {
	m.processesHalted.Add(1)
	if !completedNormally {
		m.processesAborted.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.processesStarted.Load()
	halted := m.processesHalted.Load()
	aborted := m.processesAborted.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		ProcessesStarted: started,
		ProcessesHalted:  halted,
		ProcessesAborted: aborted,
		RunningProcesses: started - halted,
		StepsCompleted:   steps,
		AvgStepDuration:  avg,
	}
}
