package services

import (
	"context"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/pkg/apperrors"
)

// DefaultLockTimeout applies when no lock timeout is configured.
const DefaultLockTimeout = 5 * time.Minute

type heldLockKey struct{}

type heldLock struct {
	transactionID string
	workerID      string
}

// processingLock runs work on one transaction while holding its
// data-resident processing lock. Nested runs for the same transaction
// reuse the lock already held by the caller.
type processingLock struct {
	txRepo  repositories.TransactionRepository
	timeout time.Duration
	clock   Clock
}

func newProcessingLock(txRepo repositories.TransactionRepository, timeout time.Duration, clock Clock) *processingLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &processingLock{txRepo: txRepo, timeout: timeout, clock: clock}
}

// run calls fn with a fresh copy of the transaction. ok is false when
// another worker holds a live lock; fn is not called then. The lock is
// released and lastVerificationCheck stamped whatever fn returns.
func (l *processingLock) run(ctx context.Context, transactionID, workerID string, fn func(ctx context.Context, txn *models.Transaction) error) (ok bool, err error) {
	if held, found := ctx.Value(heldLockKey{}).(heldLock); found && held.transactionID == transactionID {
		current, err := l.load(ctx, transactionID)
		if err != nil {
			return true, err
		}
		return true, fn(ctx, current)
	}

	acquired, err := l.txRepo.AcquireLock(ctx, transactionID, workerID, l.clock(), l.timeout)
	if err != nil {
		return false, apperrors.DatabaseError(err)
	}
	if !acquired {
		return false, nil
	}

	defer func() {
		// shutdown must not leave the lock behind until it goes stale
		releaseCtx := context.WithoutCancel(ctx)
		released, err := l.txRepo.ReleaseLock(releaseCtx, transactionID, workerID, l.clock())
		if err != nil {
			logger.WorkerLog(workerID, "release_lock", err, "transaction_id", transactionID)
		} else if !released {
			logger.Warn("processing lock was taken over before release",
				"worker", workerID,
				"transaction_id", transactionID)
		}
	}()

	current, err := l.load(ctx, transactionID)
	if err != nil {
		return true, err
	}
	ctx = context.WithValue(ctx, heldLockKey{}, heldLock{transactionID: transactionID, workerID: workerID})
	return true, fn(ctx, current)
}

func (l *processingLock) load(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := l.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return txn, nil
}
