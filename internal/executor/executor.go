// Package executor launches one background unit of work per submitted job,
// bounded by a weighted semaphore, with a per-job cancellation registry.
package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Runner executes one job to completion. The context carries the job's
// cancellation token; implementations must stop work when it fires.
type Runner interface {
	Run(ctx context.Context, jobID string)
}

// Executor schedules job runs. Submit returns immediately; the job runs on
// its own goroutine once a semaphore slot frees up.
type Executor struct {
	root   context.Context
	runner Runner
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Executor. root is the process shutdown context: once it is
// cancelled no new submissions are accepted and queued jobs stop waiting
// for slots. maxConcurrent must be at least 1.
func New(root context.Context, runner Runner, maxConcurrent int, logger *zap.Logger) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent jobs must be >= 1, got %d", maxConcurrent)
	}
	if root == nil {
		root = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		root:    root,
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Submit schedules jobID and returns immediately. It fails only when
// shutdown has begun; the caller never blocks on fetch work.
func (e *Executor) Submit(jobID string) error {
	if err := e.root.Err(); err != nil {
		return fmt.Errorf("executor shutting down: %w", err)
	}

	jobCtx, cancel := context.WithCancel(e.root)
	e.mu.Lock()
	e.cancels[jobID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.unregister(jobID)

		if err := e.sem.Acquire(jobCtx, 1); err != nil {
			// Shutdown or cancel while queued. The job stays pending in
			// the store; stale reconciliation picks it up after restart.
			e.logger.Debug("job never acquired a slot",
				zap.String("job_id", jobID), zap.Error(err))
			return
		}
		defer e.sem.Release(1)

		e.runner.Run(jobCtx, jobID)
	}()
	return nil
}

// Cancel fires jobID's cancellation token. Returns false when the job is
// not tracked (already finished or never submitted here).
func (e *Executor) Cancel(jobID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Running reports how many submitted jobs have not finished yet.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

// Wait blocks until every submitted job has finished or ctx expires.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor drain: %w", ctx.Err())
	}
}

func (e *Executor) unregister(jobID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	delete(e.cancels, jobID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}
