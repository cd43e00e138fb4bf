package memory

import (
	"context"
	"sync"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/aescanero/velodago/pkg/ports"
)

// InMemoryEventBus implements EventBus using in-memory handlers
// This is for testing purposes only
//
// Handlers run synchronously in the publisher's goroutine, so every
// subscriber sees a topic's events in publish order.
type InMemoryEventBus struct {
	subscribers map[string][]*subscription
	mu          sync.RWMutex
}

type subscription struct {
	handler ports.EventHandler
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]*subscription),
	}
}

// Publish delivers an event to all subscribers of a topic. Handler errors
// do not fail the publish.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	subs := append([]*subscription(nil), e.subscribers[topic]...)
	e.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.handler(ctx, event)
	}

	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	sub := &subscription{handler: handler}

	e.mu.Lock()
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, sub)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	return nil
}

// Close closes the event bus and cleans up resources
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]*subscription)
	return nil
}

// unsubscribe removes one subscription from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s == sub {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}
