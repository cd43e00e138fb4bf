package orchestrator

import (
	"context"
	"time"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/aescanero/velodago/pkg/ports"
	"go.uber.org/zap"
)

// StepObserver is told when each external step starts and finishes. It
// cannot influence the run.
type StepObserver interface {
	StepStarted(step domain.StepName)
	StepFinished(step domain.StepName, duration time.Duration, err error)
}

// Pipeline runs the velocity step sequence inside one execution context.
type Pipeline struct {
	provider  ports.ContextProvider
	validator *Validator
	logger    *zap.Logger
}

// NewPipeline creates a new pipeline
func NewPipeline(provider ports.ContextProvider, validator *Validator, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		provider:  provider,
		validator: validator,
		logger:    logger,
	}
}

// Validate runs the local request checks.
func (p *Pipeline) Validate(req *domain.Request) error {
	return p.validator.Validate(req)
}

// Run executes the pipeline for req. Errors raised by the execution context
// are returned as-is; the context is released on every path. observer may
// be nil.
func (p *Pipeline) Run(ctx context.Context, req *domain.Request, observer StepObserver) (*domain.Result, error) {
	if err := p.validator.Validate(req); err != nil {
		return nil, err
	}

	mode := req.Params.Mode()
	plan, err := domain.Plan(mode)
	if err != nil {
		return nil, err
	}

	kwargs := make(map[domain.StepName]map[string]any, len(plan))
	for _, step := range plan {
		kw, err := req.Params.StepKwargs(step)
		if err != nil {
			return nil, err
		}
		kwargs[step] = kw
	}

	session, err := p.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.provider.Release(session); err != nil {
			p.logger.Warn("failed to release execution context",
				zap.String("session_id", session.ID()),
				zap.Error(err))
		}
	}()

	logger := p.logger.With(
		zap.String("session_id", session.ID()),
		zap.String("mode", mode.String()))

	if err := session.CreateDataset(ctx, req.Spliced, req.Unspliced); err != nil {
		logger.Debug("dataset construction failed", zap.Error(err))
		return nil, err
	}

	for _, step := range plan {
		if observer != nil {
			observer.StepStarted(step)
		}

		start := time.Now()
		err := session.Call(ctx, step, kwargs[step])
		duration := time.Since(start)

		if observer != nil {
			observer.StepFinished(step, duration, err)
		}
		if err != nil {
			logger.Debug("step failed",
				zap.String("step", string(step)),
				zap.Error(err))
			return nil, err
		}

		logger.Debug("step completed",
			zap.String("step", string(step)),
			zap.Duration("duration", duration))
	}

	return session.Extract(ctx, req.OutputAnnData)
}
