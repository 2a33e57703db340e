// Package api defines the public contracts of the stepchain orchestrator:
// process definitions and instances, task engines, the persistence port,
// observers, and the statistics schema.
//
// Most applications should use the root stepchain package, which re-exports
// the common types and provides constructors; this package exists so that
// backend submodules and advanced integrations can depend on the contracts
// without pulling in any implementation.
package api
