package ports

import (
	"context"

	"github.com/aescanero/velodago/pkg/domain"
)

// Session is an exclusively-owned execution context holding one annotated
// dataset. It is not safe for concurrent use.
type Session interface {
	// ID identifies the session in logs.
	ID() string

	// CreateDataset builds the annotated dataset from the transposed
	// matrices. Shape mismatches are reported by the backend.
	CreateDataset(ctx context.Context, spliced, unspliced *domain.CountMatrix) error

	// Call runs one external operation on the dataset with kwargs.
	Call(ctx context.Context, step domain.StepName, kwargs map[string]any) error

	// Extract returns the obs/var tables and, if includeAnnData is set, the
	// full dataset.
	Extract(ctx context.Context, includeAnnData bool) (*domain.Result, error)

	// Close tears the context down. It is safe to call more than once.
	Close() error
}

// SessionFactory starts new execution contexts.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// ContextProvider hands out sessions with scoped acquire/release semantics.
type ContextProvider interface {
	Acquire(ctx context.Context) (Session, error)
	Release(session Session) error
}
