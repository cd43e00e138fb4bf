// Package storage provides run state storage implementations.
//
// Implementations:
//   - redis: JSON documents under velodago:run:<id> with a TTL
//   - memory: In-memory for testing
package storage
