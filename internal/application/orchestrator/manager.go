package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/aescanero/velodago/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already in terminal state")

	// ErrManagerClosed is returned by Submit after Shutdown.
	ErrManagerClosed = errors.New("orchestrator manager is shut down")
)

// Manager coordinates pipeline runs, synchronous and asynchronous.
type Manager struct {
	pipeline *Pipeline
	eventBus ports.EventBus
	storage  ports.StateStorage
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	// Track active executions
	executions sync.Map // map[string]*execution
	active     atomic.Int64
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool

	runTimeout time.Duration
}

// execution holds bookkeeping for one background run
type execution struct {
	runID      string
	cancelFunc context.CancelFunc
	done       chan struct{}
	cancelled  atomic.Bool
}

// NewManager creates a new orchestrator manager
func NewManager(
	pipeline *Pipeline,
	eventBus ports.EventBus,
	storage ports.StateStorage,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	runTimeout time.Duration,
) *Manager {
	return &Manager{
		pipeline:   pipeline,
		eventBus:   eventBus,
		storage:    storage,
		metrics:    metrics,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Run executes the pipeline synchronously. Errors from the pipeline are
// returned unchanged.
func (m *Manager) Run(ctx context.Context, req *domain.Request) (*domain.Result, error) {
	start := time.Now()
	m.trackActive(1)
	defer m.trackActive(-1)

	result, err := m.pipeline.Run(ctx, req, &metricsObserver{metrics: m.metrics})

	status := domain.RunStatusCompleted
	if err != nil {
		status = domain.RunStatusFailed
	}
	m.metrics.RecordRunCompleted(string(status), time.Since(start))

	return result, err
}

// Submit validates req and starts it in the background. It returns the run
// ID.
func (m *Manager) Submit(ctx context.Context, req *domain.Request) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	started := false
	defer func() {
		if !started {
			m.wg.Done()
		}
	}()

	if err := m.pipeline.Validate(req); err != nil {
		m.logger.Error("run validation failed", zap.Error(err))
		m.metrics.RecordRunSubmitted(string(domain.RunStatusFailed))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	mode := req.Params.Mode()
	plan, err := domain.Plan(mode)
	if err != nil {
		return "", fmt.Errorf("failed to plan run: %w", err)
	}

	runID := uuid.New().String()
	genes, cells := req.Spliced.Dims()

	state := &domain.RunState{
		RunID:         runID,
		Status:        domain.RunStatusSubmitted,
		Mode:          mode,
		OutputAnnData: req.OutputAnnData,
		Genes:         genes,
		Cells:         cells,
		Steps:         make([]*domain.StepState, len(plan)),
		SubmittedAt:   time.Now(),
	}
	for i, step := range plan {
		state.Steps[i] = &domain.StepState{
			Name:   step,
			Status: domain.RunStatusPending,
		}
	}

	if err := m.storage.SaveState(ctx, state); err != nil {
		m.logger.Error("failed to save initial state",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	if err := m.eventBus.Publish(ctx, domain.TopicRunEvents, m.newEvent(domain.EventTypeRunSubmitted, runID, "", map[string]any{
		"mode":           mode.String(),
		"genes":          genes,
		"cells":          cells,
		"output_anndata": req.OutputAnnData,
	})); err != nil {
		m.logger.Error("failed to publish run submitted event",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	execCtx, cancel := context.WithTimeout(context.Background(), m.runTimeout)
	exec := &execution{
		runID:      runID,
		cancelFunc: cancel,
		done:       make(chan struct{}),
	}
	m.mu.Lock()
	m.executions.Store(runID, exec)
	if m.closed {
		exec.cancelled.Store(true)
		cancel()
	}
	m.mu.Unlock()

	m.metrics.RecordRunSubmitted(string(domain.RunStatusSubmitted))
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("mode", mode.String()),
		zap.Int("genes", genes),
		zap.Int("cells", cells))

	started = true
	go m.execute(execCtx, exec, state, req)

	return runID, nil
}

// execute runs a submitted request and persists its terminal state
func (m *Manager) execute(ctx context.Context, exec *execution, state *domain.RunState, req *domain.Request) {
	defer m.wg.Done()
	defer close(exec.done)
	defer m.executions.Delete(exec.runID)
	defer exec.cancelFunc()

	m.trackActive(1)
	defer m.trackActive(-1)

	// Bookkeeping must outlive a cancelled run.
	bg := context.WithoutCancel(ctx)
	logger := m.logger.With(zap.String("run_id", exec.runID))

	started := time.Now()
	state.Status = domain.RunStatusRunning
	state.StartedAt = &started
	m.saveState(bg, state)
	m.publish(bg, domain.TopicRunEvents, m.newEvent(domain.EventTypeRunStarted, exec.runID, "", nil))

	logger.Info("run started")

	observer := &runObserver{
		manager: m,
		ctx:     bg,
		state:   state,
		metrics: &metricsObserver{metrics: m.metrics},
	}
	result, err := m.pipeline.Run(ctx, req, observer)

	completed := time.Now()
	state.CompletedAt = &completed
	duration := completed.Sub(started)

	var eventType domain.EventType
	data := map[string]any{"duration_ms": duration.Milliseconds()}

	switch {
	case err == nil:
		state.Status = domain.RunStatusCompleted
		state.Result = result
		eventType = domain.EventTypeRunCompleted
		logger.Info("run completed", zap.Duration("duration", duration))

	case exec.cancelled.Load():
		state.Status = domain.RunStatusCancelled
		state.Error = "run cancelled"
		eventType = domain.EventTypeRunCancelled
		logger.Info("run cancelled", zap.Duration("duration", duration))

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		state.Status = domain.RunStatusFailed
		state.Error = fmt.Sprintf("execution timeout after %s", m.runTimeout)
		eventType = domain.EventTypeRunFailed
		data["error"] = state.Error
		logger.Warn("run timed out", zap.Duration("timeout", m.runTimeout))

	default:
		state.Status = domain.RunStatusFailed
		state.Error = err.Error()
		eventType = domain.EventTypeRunFailed
		data["error"] = state.Error
		logger.Error("run failed", zap.Error(err))
	}

	for _, st := range state.Steps {
		if st.Status == domain.RunStatusPending {
			st.Status = domain.RunStatusSkipped
		}
	}

	m.saveState(bg, state)
	m.publish(bg, domain.TopicRunEvents, m.newEvent(eventType, exec.runID, "", data))
	m.metrics.RecordRunCompleted(string(state.Status), duration)
}

// GetStatus retrieves the current state of a run
func (m *Manager) GetStatus(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := m.storage.GetState(ctx, runID)
	if err != nil {
		if errors.Is(err, ports.ErrStateNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return state, nil
}

// ListRuns returns all known runs, most recently submitted first.
func (m *Manager) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	states, err := m.storage.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].SubmittedAt.After(states[j].SubmittedAt)
	})
	return states, nil
}

// CancelRun cancels a running run and waits until its terminal state has
// been persisted or ctx is done.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		state, err := m.storage.GetState(ctx, runID)
		if err != nil {
			if errors.Is(err, ports.ErrStateNotFound) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			return fmt.Errorf("failed to get state: %w", err)
		}
		if state.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrRunFinished, state.Status)
		}
		// Persisted by another process or lost on restart.
		return fmt.Errorf("%w: %s is not executing here", ErrRunNotFound, runID)
	}

	exec := val.(*execution)
	if exec.cancelled.Swap(true) {
		return fmt.Errorf("%w: %s", ErrRunFinished, domain.RunStatusCancelled)
	}
	exec.cancelFunc()

	m.logger.Info("run cancellation requested", zap.String("run_id", runID))

	select {
	case <-exec.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The run may have finished on its own before the cancel landed.
	state, err := m.storage.GetState(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get state: %w", err)
	}
	if state.Status != domain.RunStatusCancelled {
		return fmt.Errorf("%w: %s", ErrRunFinished, state.Status)
	}
	return nil
}

// Shutdown cancels all background runs and waits for them to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.executions.Range(func(key, value any) bool {
		exec := value.(*execution)
		exec.cancelled.Store(true)
		exec.cancelFunc()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) trackActive(delta int64) {
	m.metrics.SetActiveRuns(int(m.active.Add(delta)))
}

func (m *Manager) newEvent(eventType domain.EventType, runID string, step domain.StepName, data map[string]any) domain.Event {
	return domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Step:      step,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (m *Manager) publish(ctx context.Context, topic string, event domain.Event) {
	if err := m.eventBus.Publish(ctx, topic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("run_id", event.RunID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (m *Manager) saveState(ctx context.Context, state *domain.RunState) {
	if err := m.storage.SaveState(ctx, state); err != nil {
		m.logger.Error("failed to save state",
			zap.String("run_id", state.RunID),
			zap.String("status", string(state.Status)),
			zap.Error(err))
	}
}

// metricsObserver records step durations
type metricsObserver struct {
	metrics ports.MetricsCollector
}

func (o *metricsObserver) StepStarted(domain.StepName) {}

func (o *metricsObserver) StepFinished(step domain.StepName, duration time.Duration, err error) {
	status := domain.RunStatusCompleted
	if err != nil {
		status = domain.RunStatusFailed
	}
	o.metrics.RecordStepExecuted(string(step), string(status), duration)
}

// runObserver keeps a run's step states, events and metrics current
type runObserver struct {
	manager *Manager
	ctx     context.Context
	state   *domain.RunState
	metrics *metricsObserver
}

func (o *runObserver) StepStarted(step domain.StepName) {
	now := time.Now()
	if st := o.state.Step(step); st != nil {
		st.Status = domain.RunStatusRunning
		st.StartedAt = &now
	}
	o.manager.saveState(o.ctx, o.state)
	o.manager.publish(o.ctx, domain.TopicStepEvents,
		o.manager.newEvent(domain.EventTypeStepStarted, o.state.RunID, step, nil))
}

func (o *runObserver) StepFinished(step domain.StepName, duration time.Duration, err error) {
	o.metrics.StepFinished(step, duration, err)

	now := time.Now()
	eventType := domain.EventTypeStepCompleted
	data := map[string]any{"duration_ms": duration.Milliseconds()}

	if st := o.state.Step(step); st != nil {
		st.CompletedAt = &now
		st.Status = domain.RunStatusCompleted
		if err != nil {
			st.Status = domain.RunStatusFailed
			st.Error = err.Error()
		}
	}
	if err != nil {
		eventType = domain.EventTypeStepFailed
		data["error"] = err.Error()
	}

	o.manager.saveState(o.ctx, o.state)
	o.manager.publish(o.ctx, domain.TopicStepEvents,
		o.manager.newEvent(eventType, o.state.RunID, step, data))
}
