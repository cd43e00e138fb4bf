// Package orchestrator implements the velocity pipeline and the runs built
// on top of it.
//
// The pipeline validates a request, acquires an execution context, builds
// the annotated dataset and calls the external steps in plan order before
// extracting the results. The context is released on every path and
// external errors are returned unchanged.
//
// The manager adds asynchronous runs: submission, per-run timeouts,
// cancellation, persisted state and lifecycle events.
package orchestrator
