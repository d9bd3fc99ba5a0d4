package services

import (
	"context"
	"errors"

	"paylink_backend/internal/events"
	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/pkg/apperrors"
)

// StateManager is the only writer of Transaction.State.
type StateManager interface {
	// Transition moves the transaction to `to`. On an audit failure the new
	// state stands: the transaction is returned together with an
	// AuditWriteError (see apperrors.IsNonFatal).
	Transition(ctx context.Context, transactionID string, to models.TransactionState, reason string, metadata map[string]interface{}) (*models.Transaction, error)

	// Check reports whether txn may move to `to` right now, retry policy
	// included. Nothing is written.
	Check(ctx context.Context, txn *models.Transaction, to models.TransactionState) error
}

type stateManager struct {
	txRepo      repositories.TransactionRepository
	audit       AuditService
	publisher   events.Publisher
	retryPolicy PayoutRetryPolicy
	clock       Clock
}

func NewStateManager(
	txRepo repositories.TransactionRepository,
	audit AuditService,
	publisher events.Publisher,
	retryPolicy PayoutRetryPolicy,
	clock Clock,
) StateManager {
	if publisher == nil {
		publisher = events.NewLogPublisher()
	}
	if retryPolicy == nil {
		retryPolicy = OperatorRetryPolicy{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &stateManager{
		txRepo:      txRepo,
		audit:       audit,
		publisher:   publisher,
		retryPolicy: retryPolicy,
		clock:       clock,
	}
}

func (m *stateManager) Transition(ctx context.Context, transactionID string, to models.TransactionState, reason string, metadata map[string]interface{}) (*models.Transaction, error) {
	txn, err := m.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apperrors.NotFound("transaction", transactionID)
		}
		return nil, apperrors.DatabaseError(err)
	}

	from := txn.State
	if err := m.Check(ctx, txn, to); err != nil {
		return nil, err
	}

	now := m.clock()
	ok, err := m.txRepo.CompareAndSetState(ctx, txn.ID, from, to, now)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.ErrConcurrentModification.WithDetails(map[string]string{
			"transactionId": txn.ID,
			"expected":      string(from),
		})
	}

	txn.State = to
	txn.UpdatedAt = now

	auditMeta := map[string]interface{}{}
	for k, v := range metadata {
		auditMeta[k] = v
	}
	auditMeta["reason"] = reason

	_, auditErr := m.audit.Record(ctx, models.EntityTransaction, txn.ID, models.ActionStateTransition,
		map[string]models.TransactionState{"from": from, "to": to},
		auditMeta,
	)

	m.publish(ctx, events.StateChanged{
		Type:          events.TypeStateChanged,
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		From:          from,
		To:            to,
		Reason:        reason,
		At:            now,
	})

	logger.CtxInfo(ctx, "transaction state changed",
		"transaction_id", txn.ID,
		"from", from,
		"to", to,
		"reason", reason,
	)

	if auditErr != nil {
		return txn, auditErr
	}
	return txn, nil
}

func (m *stateManager) Check(ctx context.Context, txn *models.Transaction, to models.TransactionState) error {
	if !models.CanTransition(txn.State, to) {
		return apperrors.InvalidTransition(string(txn.State), string(to))
	}
	if txn.State == models.StatePayoutFailed && to == models.StatePaid {
		return m.retryPolicy.AllowRetry(ctx, txn)
	}
	return nil
}

func (m *stateManager) publish(ctx context.Context, event events.StateChanged) {
	if err := m.publisher.Publish(ctx, event); err != nil {
		logger.CtxWithError(ctx, "failed to publish lifecycle event", err,
			"transaction_id", event.TransactionID,
			"type", event.Type,
		)
	}
}
