// Package interpreter provides execution-context backends.
//
// Implementations:
//   - python: a Python subprocess running the bundled bridge script inside a
//     version-pinned virtualenv
//   - memory: an in-process simulation for testing
package interpreter
