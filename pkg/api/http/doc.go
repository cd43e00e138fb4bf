// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Synchronous velocity pipeline calls
//   - Run submission, status, results and cancellation
//   - Execution context (worker) status
//   - Health checks
//   - Prometheus metrics
package http
