package services

import (
	"context"
	"errors"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/settlement"
	"paylink_backend/pkg/apperrors"
)

// PayoutClaimTimeout is how long an in-flight attempt blocks other triggers
// before it counts as abandoned.
const PayoutClaimTimeout = 10 * time.Minute

type PayoutService interface {
	// Trigger pays out a PAID transaction exactly once per idempotency key.
	Trigger(ctx context.Context, transactionID, idempotencyKey string) (*models.Payout, error)
	// Retry re-enters PAID from PAYOUT_FAILED if the retry policy allows it.
	Retry(ctx context.Context, transactionID, reason string) (*models.Transaction, error)
	Get(ctx context.Context, transactionID string) (*models.Payout, error)
}

type payoutService struct {
	txRepo       repositories.TransactionRepository
	payoutRepo   repositories.PayoutRepository
	stateManager StateManager
	audit        AuditService
	interceptor  AuditInterceptor
	provider     settlement.PayoutProvider
	clock        Clock
}

func NewPayoutService(
	txRepo repositories.TransactionRepository,
	payoutRepo repositories.PayoutRepository,
	stateManager StateManager,
	audit AuditService,
	interceptor AuditInterceptor,
	provider settlement.PayoutProvider,
	clock Clock,
) PayoutService {
	if clock == nil {
		clock = SystemClock
	}
	return &payoutService{
		txRepo:       txRepo,
		payoutRepo:   payoutRepo,
		stateManager: stateManager,
		audit:        audit,
		interceptor:  interceptor,
		provider:     provider,
		clock:        clock,
	}
}

func (s *payoutService) Trigger(ctx context.Context, transactionID, idempotencyKey string) (*models.Payout, error) {
	if idempotencyKey == "" {
		return nil, apperrors.ValidationError(map[string]string{"idempotencyKey": "is required"})
	}

	txn, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	payout, err := s.payoutRepo.FindByTransactionID(ctx, txn.ID)
	switch {
	case err == nil:
		if payout.IdempotencyKey != idempotencyKey {
			return nil, duplicateKey(idempotencyKey, txn.ID)
		}
		if payout.Status == models.PayoutSuccess {
			return payout, nil
		}
	case errors.Is(err, repositories.ErrPayoutNotFound):
		payout = nil
		other, err := s.payoutRepo.FindByIdempotencyKey(ctx, idempotencyKey)
		if err == nil && other.TransactionID != txn.ID {
			return nil, duplicateKey(idempotencyKey, txn.ID)
		}
		if err != nil && !errors.Is(err, repositories.ErrPayoutNotFound) {
			return nil, apperrors.DatabaseError(err)
		}
	default:
		return nil, apperrors.DatabaseError(err)
	}

	if txn.State != models.StatePaid {
		return nil, apperrors.InvalidTransition(string(txn.State), string(models.StateCompleted))
	}

	var nonFatal error
	if payout == nil {
		payout = &models.Payout{
			TransactionID:  txn.ID,
			IdempotencyKey: idempotencyKey,
			Amount:         payoutAmount(txn),
			Currency:       txn.Currency,
			Status:         models.PayoutPending,
		}
		err := s.payoutRepo.Create(ctx, payout)
		switch {
		case errors.Is(err, repositories.ErrDuplicateKey):
			// a concurrent caller inserted first; carry on with its row if the key matches
			existing, findErr := s.payoutRepo.FindByTransactionID(ctx, txn.ID)
			if findErr != nil || existing.IdempotencyKey != idempotencyKey {
				return nil, duplicateKey(idempotencyKey, txn.ID)
			}
			payout = existing
		case err != nil:
			return nil, apperrors.DatabaseError(err)
		default:
			nonFatal = s.interceptor.Created(ctx, models.EntityPayout, payout.ID, payout)
		}
	}

	now := s.clock()
	claimed, err := s.payoutRepo.ClaimAttempt(ctx, payout.ID, now, now.Add(-PayoutClaimTimeout))
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !claimed {
		return s.inFlight(ctx, payout.ID)
	}

	result, sendErr := s.provider.SendPayout(ctx, settlement.PayoutRequest{
		IdempotencyKey: idempotencyKey,
		Reference:      txn.Reference,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
	})

	if sendErr != nil {
		return s.failed(ctx, txn, payout, sendErr, nonFatal)
	}
	return s.succeeded(ctx, txn, payout, result, nonFatal)
}

// inFlight answers a trigger that lost the claim on the payout row.
func (s *payoutService) inFlight(ctx context.Context, payoutID string) (*models.Payout, error) {
	current, err := s.payoutRepo.FindByID(ctx, payoutID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if current.Status == models.PayoutSuccess {
		return current, nil
	}
	return nil, apperrors.ErrConcurrentModification.WithDetails(map[string]string{
		"payoutId": current.ID,
		"status":   string(current.Status),
	})
}

func (s *payoutService) succeeded(ctx context.Context, txn *models.Transaction, payout *models.Payout, result *settlement.PayoutResult, nonFatal error) (*models.Payout, error) {
	ref := ""
	if result != nil {
		ref = result.ProviderReference
	}
	if err := s.payoutRepo.MarkSucceeded(ctx, payout.ID, ref, s.clock()); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	_, err := s.stateManager.Transition(ctx, txn.ID, models.StateCompleted, "payout succeeded",
		map[string]interface{}{"payoutId": payout.ID})
	if err != nil && !apperrors.IsNonFatal(err) {
		return nil, err
	}
	nonFatal = firstNonFatal(nonFatal, err)

	_, auditErr := s.audit.Record(ctx, models.EntityPayout, payout.ID, models.ActionPayoutSucceeded,
		map[string]FieldChange{"status": {From: models.PayoutPending, To: models.PayoutSuccess}},
		map[string]interface{}{
			"transactionId":     txn.ID,
			"providerReference": ref,
			"idempotencyKey":    payout.IdempotencyKey,
		},
	)

	logger.CtxInfo(ctx, "payout succeeded", "transaction_id", txn.ID, "payout_id", payout.ID)

	updated, err := s.payoutRepo.FindByID(ctx, payout.ID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return updated, firstNonFatal(nonFatal, auditErr)
}

func (s *payoutService) failed(ctx context.Context, txn *models.Transaction, payout *models.Payout, sendErr error, nonFatal error) (*models.Payout, error) {
	// the transaction leaves PAID before the row is released, so no other
	// trigger can claim the payout until a retry re-enters PAID
	_, transitionErr := s.stateManager.Transition(ctx, txn.ID, models.StatePayoutFailed, "payout failed",
		map[string]interface{}{"payoutId": payout.ID, "error": sendErr.Error()})
	if err := s.payoutRepo.MarkFailed(ctx, payout.ID, sendErr.Error(), s.clock()); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if transitionErr != nil && !apperrors.IsNonFatal(transitionErr) {
		return nil, transitionErr
	}

	_, auditErr := s.audit.Record(ctx, models.EntityPayout, payout.ID, models.ActionPayoutFailed,
		map[string]FieldChange{"status": {From: models.PayoutPending, To: models.PayoutFailed}},
		map[string]interface{}{
			"transactionId":  txn.ID,
			"idempotencyKey": payout.IdempotencyKey,
			"error":          sendErr.Error(),
		},
	)
	if nonFatal = firstNonFatal(nonFatal, transitionErr, auditErr); nonFatal != nil {
		logger.CtxWarn(ctx, "payout failure recorded with an incomplete audit trail",
			"transaction_id", txn.ID,
			"payout_id", payout.ID,
		)
	}

	logger.CtxWarn(ctx, "payout failed",
		"transaction_id", txn.ID,
		"payout_id", payout.ID,
		"error", sendErr.Error(),
	)

	updated, loadErr := s.payoutRepo.FindByID(ctx, payout.ID)
	if loadErr != nil {
		return nil, apperrors.DatabaseError(loadErr)
	}

	var appErr *apperrors.AppError
	if errors.As(sendErr, &appErr) && errors.Is(appErr, apperrors.ErrProvider) {
		return updated, appErr
	}
	return updated, apperrors.ProviderError(sendErr, true)
}

func (s *payoutService) Retry(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	txn, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.State != models.StatePayoutFailed {
		return nil, apperrors.InvalidTransition(string(txn.State), string(models.StatePaid))
	}
	if reason == "" {
		reason = "payout retry"
	}
	return s.stateManager.Transition(ctx, txn.ID, models.StatePaid, reason, map[string]interface{}{"retry": true})
}

func (s *payoutService) Get(ctx context.Context, transactionID string) (*models.Payout, error) {
	payout, err := s.payoutRepo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrPayoutNotFound) {
			return nil, apperrors.NotFound("payout", transactionID)
		}
		return nil, apperrors.DatabaseError(err)
	}
	return payout, nil
}

func (s *payoutService) loadTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apperrors.NotFound("transaction", transactionID)
		}
		return nil, apperrors.DatabaseError(err)
	}
	return txn, nil
}

// payoutAmount pays what was actually received when it is known.
func payoutAmount(txn *models.Transaction) string {
	if txn.ActualAmountPaid != nil && *txn.ActualAmountPaid != "" {
		return *txn.ActualAmountPaid
	}
	return txn.Amount
}

func duplicateKey(key, transactionID string) error {
	return apperrors.ErrDuplicateIdempotencyKey.WithDetails(map[string]string{
		"idempotencyKey": key,
		"transactionId":  transactionID,
	})
}
