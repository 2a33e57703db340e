// Package stepchain provides a lightweight, embeddable step-chain
// orchestrator for Go.
//
// Stepchain drives an ordered sequence of named steps, each delegated to
// its own asynchronous task engine, while tracking aggregate progress and
// failure state. A per-step critical/non-critical policy decides whether a
// failing step aborts the whole chain or the chain continues past it. It
// runs fully in-process, supports multiple persistence backends for status
// bookkeeping, and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The stepchain programming model is intentionally small:
//
//  1. ProcessDefinition
//  2. ProcessInstance
//  3. TaskEngine
//  4. Store
//  5. LocalRunner
//
// # ProcessDefinition
//
// A ProcessDefinition says what a process does: it parses the request
// inputs, registers the ordered step list on an instance, and optionally
// stores a report when the run finishes. Definitions are usually assembled
// with the fluent DefinitionBuilder:
//
//	def := stepchain.Define("ReindexAssets").
//	    Inputs(parseParams).
//	    CriticalStep("collect", stepchain.Collect(discover, index)).
//	    Step("notify", stepchain.Single("/content", notifyOwners)).
//	    Definition()
//
// # ProcessInstance
//
// A ProcessInstance is one run of a definition. Run records the requester
// and start time, asks the definition to build the step list, and then
// drives the chain front to back:
//
//   - a critical step that fails aborts every remaining step;
//   - a non-critical step that fails has its failures recorded, and the
//     chain continues with the next step.
//
// Instances maintain a live status record (progress fraction, status text,
// completed-unit counter, append-only error log) and persist it under a
// service identity on every step activation. When the chain is exhausted
// or aborted the instance halts exactly once: terminal status, final
// persist, report storage, engine release.
//
// # TaskEngine
//
// Each step runs on its own TaskEngine, an asynchronous executor that
// tracks submitted/completed/succeeded/failed work units and signals
// completion through callbacks. The built-in engine is pkg/taskpool, a
// worker-goroutine pool with per-unit retry support; any implementation of
// the api.TaskEngine contract can be plugged in through an EngineFactory.
//
// # Store
//
// Status and failure records are written through a small persistence port
// (api.Store / api.Conn) under a scoped acquire, use, commit-if-dirty,
// close discipline. Built-in backends:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres, Redis, MongoDB (submodules)
//
// Store failures are logged and swallowed: bookkeeping never changes the
// business outcome of a step or the chain.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory store and a pooled engine factory into
// a single process-local helper useful for development and unit testing.
//
// # Monitoring
//
// Every instance can render an immutable statistics row (total steps,
// completed steps, success/error sums, runtime, progress) on demand, and
// pkg/metrics exposes those rows as Prometheus gauges for periodic
// scraping. Lifecycle events (process start/halt, step start/completion)
// flow through the Observer interface; NewLoggingObserver emits them as
// structured slog records.
package stepchain
