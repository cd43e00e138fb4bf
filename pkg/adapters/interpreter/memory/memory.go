package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/aescanero/velodago/pkg/ports"
	"github.com/google/uuid"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session is closed")

// Call records one operation performed on a session.
type Call struct {
	SessionID string
	Op        string
	Step      domain.StepName
	Kwargs    map[string]any
}

// Backend implements SessionFactory without an interpreter. Every step
// writes the annotations the external library would write, so the full
// pipeline can be exercised in-process.
// This is for testing purposes only
type Backend struct {
	mu         sync.Mutex
	calls      []Call
	created    int
	open       int
	failures   map[domain.StepName]error
	sessionErr error
}

// NewBackend creates a new in-memory interpreter backend
func NewBackend() *Backend {
	return &Backend{
		failures: make(map[domain.StepName]error),
	}
}

// FailStep makes every subsequent call of step return err.
func (b *Backend) FailStep(step domain.StepName, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[step] = err
}

// FailNewSession makes NewSession return err until cleared with nil.
func (b *Backend) FailNewSession(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionErr = err
}

// NewSession starts a new in-memory session
func (b *Backend) NewSession(ctx context.Context) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sessionErr != nil {
		return nil, b.sessionErr
	}

	b.created++
	b.open++

	return &session{
		id:      uuid.New().String(),
		backend: b,
	}, nil
}

// Calls returns every recorded operation in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// Steps returns the steps called on the given session, in order.
func (b *Backend) Steps(sessionID string) []domain.StepName {
	var steps []domain.StepName
	for _, c := range b.Calls() {
		if c.Op == "call" && c.SessionID == sessionID {
			steps = append(steps, c.Step)
		}
	}
	return steps
}

// SessionIDs returns the IDs of all sessions that created a dataset.
func (b *Backend) SessionIDs() []string {
	var ids []string
	for _, c := range b.Calls() {
		if c.Op == "create" {
			ids = append(ids, c.SessionID)
		}
	}
	return ids
}

// OpenSessions returns the number of sessions not yet closed.
func (b *Backend) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// SessionsCreated returns the number of sessions ever started.
func (b *Backend) SessionsCreated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

func (b *Backend) record(c Call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
}

func (b *Backend) failure(step domain.StepName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[step]
}

func (b *Backend) closed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open--
}

// session is a single in-memory execution context
type session struct {
	id      string
	backend *Backend
	data    *dataset
	done    bool
}

func (s *session) ID() string {
	return s.id
}

func (s *session) CreateDataset(ctx context.Context, spliced, unspliced *domain.CountMatrix) error {
	if s.done {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.backend.record(Call{SessionID: s.id, Op: "create"})

	genes, cells := spliced.Dims()
	uGenes, uCells := unspliced.Dims()
	if genes != uGenes || cells != uCells {
		return fmt.Errorf("ValueError: Value passed for key 'unspliced' is of incorrect shape. "+
			"Values of layers must match dimensions (0, 1) of parent. "+
			"Value had shape (%d, %d) while it should have had (%d, %d).", uCells, uGenes, cells, genes)
	}

	s.data = newDataset(spliced, unspliced)
	return nil
}

func (s *session) Call(ctx context.Context, step domain.StepName, kwargs map[string]any) error {
	if s.done {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.backend.record(Call{SessionID: s.id, Op: "call", Step: step, Kwargs: kwargs})

	if !step.Valid() {
		return fmt.Errorf("AttributeError: module 'scvelo' has no attribute '%s'", step)
	}
	if s.data == nil {
		return fmt.Errorf("NameError: name 'adata' is not defined")
	}
	if err := s.backend.failure(step); err != nil {
		return err
	}

	dynamical := step.DynamicalOnly() || kwargs["mode"] == domain.ModeDynamical.String()
	for _, dep := range step.Requires() {
		if dep.DynamicalOnly() && !dynamical {
			continue
		}
		if !s.data.steps[dep] {
			return fmt.Errorf("ValueError: %s requires %s to be run first", step.Function(), dep.Function())
		}
	}

	s.data.apply(step)
	return nil
}

func (s *session) Extract(ctx context.Context, includeAnnData bool) (*domain.Result, error) {
	if s.done {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.backend.record(Call{SessionID: s.id, Op: "extract"})

	if s.data == nil {
		return nil, fmt.Errorf("NameError: name 'adata' is not defined")
	}

	result := &domain.Result{
		Obs: s.data.obsTable(),
		Var: s.data.varTable(),
	}
	if includeAnnData {
		result.AnnData = s.data.annData()
	}
	return result, nil
}

func (s *session) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.data = nil
	s.backend.record(Call{SessionID: s.id, Op: "close"})
	s.backend.closed()
	return nil
}
