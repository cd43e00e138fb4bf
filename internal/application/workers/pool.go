package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/velodago/pkg/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool bounds the number of live execution contexts. Each slot hosts at
// most one session at a time; a session is started on Acquire and torn
// down on Release.
type Pool struct {
	size    int
	factory ports.SessionFactory
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor
	sem     *semaphore.Weighted

	mu      sync.Mutex
	workers []*worker
	leases  map[string]*worker
	closed  bool
	leased  sync.WaitGroup
}

// worker is one slot of the pool
type worker struct {
	id        string
	status    WorkerStatus
	sessionID string
	jobs      int
	lastJob   time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// WorkerInfo is a snapshot of one slot.
type WorkerInfo struct {
	ID        string       `json:"id"`
	Status    WorkerStatus `json:"status"`
	SessionID string       `json:"session_id,omitempty"`
	Jobs      int          `json:"jobs"`
	LastJob   time.Time    `json:"last_job"`
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	factory ports.SessionFactory,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	pool := &Pool{
		size:    size,
		factory: factory,
		metrics: metrics,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(size)),
		workers: make([]*worker, size),
		leases:  make(map[string]*worker),
	}

	now := time.Now()
	for i := range pool.workers {
		pool.workers[i] = &worker{
			id:      fmt.Sprintf("worker-%d", i),
			status:  WorkerStatusIdle,
			lastJob: now,
		}
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Health returns the pool's health monitor.
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start starts the health monitor
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))
	p.health.Start()
	return nil
}

// Acquire waits for a free slot and starts a session in it. Session start
// errors are returned unchanged.
func (p *Pool) Acquire(ctx context.Context) (ports.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	w := p.idleWorker()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	p.leased.Add(1)
	p.mu.Unlock()

	p.metrics.RecordSessionAcquired(time.Since(start))

	session, err := p.factory.NewSession(ctx)
	if err != nil {
		p.logger.Error("failed to start session",
			zap.String("worker_id", w.id),
			zap.Error(err))
		p.free(w)
		return nil, err
	}

	p.mu.Lock()
	w.sessionID = session.ID()
	w.jobs++
	p.leases[session.ID()] = w
	p.mu.Unlock()

	p.logger.Debug("session acquired",
		zap.String("worker_id", w.id),
		zap.String("session_id", session.ID()),
		zap.Duration("wait", time.Since(start)))

	return session, nil
}

// Release tears the session down and frees its slot. Releasing a session
// twice is a no-op.
func (p *Pool) Release(session ports.Session) error {
	if session == nil {
		return nil
	}

	p.mu.Lock()
	w, ok := p.leases[session.ID()]
	if ok {
		delete(p.leases, session.ID())
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	closeErr := session.Close()
	p.free(w)

	p.logger.Debug("session released",
		zap.String("worker_id", w.id),
		zap.String("session_id", session.ID()))

	if closeErr != nil {
		return fmt.Errorf("failed to close session %s: %w", session.ID(), closeErr)
	}
	return nil
}

func (p *Pool) free(w *worker) {
	p.mu.Lock()
	w.sessionID = ""
	if p.closed {
		w.status = WorkerStatusStopped
	} else {
		w.status = WorkerStatusIdle
	}
	p.mu.Unlock()

	p.sem.Release(1)
	p.leased.Done()
}

// idleWorker returns a slot not hosting a session. The semaphore
// guarantees one exists; callers must hold p.mu.
func (p *Pool) idleWorker() *worker {
	for _, w := range p.workers {
		if w.status == WorkerStatusIdle {
			return w
		}
	}
	panic("workers: semaphore admitted more sessions than slots")
}

// Shutdown stops accepting new sessions and waits for leased ones to be
// released.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	p.mu.Lock()
	p.closed = true
	for _, w := range p.workers {
		if w.status == WorkerStatusIdle {
			w.status = WorkerStatusStopped
		}
	}
	p.mu.Unlock()

	// Listeners see the pool as stopped before leases drain.
	p.health.Check()

	done := make(chan struct{})
	go func() {
		p.leased.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := make(map[string]WorkerStatus, len(p.workers))
	for _, w := range p.workers {
		status[w.id] = w.status
	}
	return status
}

// Workers returns a snapshot of every slot.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]WorkerInfo, len(p.workers))
	for i, w := range p.workers {
		infos[i] = WorkerInfo{
			ID:        w.id,
			Status:    w.status,
			SessionID: w.sessionID,
			Jobs:      w.jobs,
			LastJob:   w.lastJob,
		}
	}
	return infos
}
