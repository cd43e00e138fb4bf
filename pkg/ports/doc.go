// Package ports defines the interfaces between the application layer and
// its adapters: execution contexts, state storage, the event bus and
// metrics.
package ports
