package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/services"
	"paylink_backend/internal/services/dto"
)

// CycleRunner is the part of ReconciliationService the worker drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*dto.CycleReport, error)
}

// ReconciliationWorker runs one reconciliation cycle per tick. The cycle runs
// inside the loop goroutine, so a new one never starts before the previous
// one returns; ticks that fire meanwhile are dropped by the ticker.
type ReconciliationWorker struct {
	runner   CycleRunner
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciliationWorker(runner CycleRunner, interval time.Duration) *ReconciliationWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconciliationWorker{runner: runner, interval: interval}
}

// Start launches the loop. Calling Start on a running worker does nothing.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx, w.done)
}

// Stop cancels the loop and waits for an in-flight cycle to return. Locks of
// candidates interrupted mid-call are released by the cycle itself or, at
// worst, expire through the lock timeout.
func (w *ReconciliationWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *ReconciliationWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info("Reconciliation worker started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reconciliation cycle panicked", "panic", r)
		}
	}()

	_, err := w.runner.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrCycleInProgress):
		logger.Debug("reconciliation cycle skipped, previous still running")
	default:
		logger.WorkerLog("reconciliation", "run_cycle", err)
	}
}
