package services

import (
	"context"

	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/pkg/apperrors"
)

// PayoutRetryPolicy decides whether a PAYOUT_FAILED transaction may re-enter
// PAID. The StateManager consults it on that edge only.
type PayoutRetryPolicy interface {
	AllowRetry(ctx context.Context, txn *models.Transaction) error
}

// OperatorRetryPolicy allows every explicit retry call.
type OperatorRetryPolicy struct{}

func (OperatorRetryPolicy) AllowRetry(ctx context.Context, txn *models.Transaction) error {
	return nil
}

// LimitedRetryPolicy allows at most Max re-entries into PAID, counted from
// the audit trail.
type LimitedRetryPolicy struct {
	Max       int
	AuditRepo repositories.AuditRepository
}

func (p LimitedRetryPolicy) AllowRetry(ctx context.Context, txn *models.Transaction) error {
	retries, err := p.AuditRepo.CountTransitions(ctx, txn.ID, models.StatePayoutFailed, models.StatePaid)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if retries >= p.Max {
		return apperrors.ErrRetryNotAllowed.WithDetails(map[string]int{
			"retries": retries,
			"max":     p.Max,
		})
	}
	return nil
}
