// Package grpc serves the standard gRPC health checking protocol, backed
// by the worker pool health monitor.
package grpc
