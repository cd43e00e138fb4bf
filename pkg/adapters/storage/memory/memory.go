package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/aescanero/velodago/pkg/ports"
)

// InMemoryStateStorage implements StateStorage using in-memory map
// This is for testing purposes only
type InMemoryStateStorage struct {
	states map[string][]byte
	mu     sync.RWMutex
}

// NewInMemoryStateStorage creates a new in-memory state storage
func NewInMemoryStateStorage() *InMemoryStateStorage {
	return &InMemoryStateStorage{
		states: make(map[string][]byte),
	}
}

// SaveState stores a serialized copy of state, so later mutations by the
// caller are not visible to readers.
func (s *InMemoryStateStorage) SaveState(ctx context.Context, state *domain.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.RunID] = data
	return nil
}

// GetState retrieves run state from memory
func (s *InMemoryStateStorage) GetState(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	data, ok := s.states[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrStateNotFound, runID)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// DeleteState removes run state
func (s *InMemoryStateStorage) DeleteState(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, runID)
	return nil
}

// ListStates returns every stored run state
func (s *InMemoryStateStorage) ListStates(ctx context.Context) ([]*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*domain.RunState, 0, len(s.states))
	for id, data := range s.states {
		var state domain.RunState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state %s: %w", id, err)
		}
		states = append(states, &state)
	}
	return states, nil
}
