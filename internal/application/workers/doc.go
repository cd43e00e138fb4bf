// Package workers implements the pool of execution contexts.
//
// The pool owns a fixed number of slots. Each call to Acquire waits for a
// free slot and starts a fresh interpreter session in it; Release closes the
// session and frees the slot, so no interpreter state survives between
// pipeline calls.
//
// The health monitor tracks slot status, records it as metrics and notifies
// listeners such as the gRPC health service.
package workers
