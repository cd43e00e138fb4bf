// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: In-memory, synchronous delivery, for testing and
//     single-process deployments
package events
