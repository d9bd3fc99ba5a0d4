package repositories

import (
	"context"
	"time"

	"paylink_backend/internal/models"

	"gorm.io/gorm"
)

type PayoutRepository interface {
	Create(ctx context.Context, payout *models.Payout) error
	FindByID(ctx context.Context, id string) (*models.Payout, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Payout, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Payout, error)
	ClaimAttempt(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, id, providerReference string, now time.Time) error
	MarkFailed(ctx context.Context, id, reason string, now time.Time) error
}

type PayoutRepositoryImpl struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &PayoutRepositoryImpl{db: db}
}

func (r *PayoutRepositoryImpl) Create(ctx context.Context, payout *models.Payout) error {
	err := r.db.WithContext(ctx).Create(payout).Error
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *PayoutRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, ErrPayoutNotFound)
	}
	return &payout, nil
}

func (r *PayoutRepositoryImpl) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&payout).Error
	if err != nil {
		return nil, notFound(err, ErrPayoutNotFound)
	}
	return &payout, nil
}

func (r *PayoutRepositoryImpl) FindByIdempotencyKey(ctx context.Context, key string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&payout).Error
	if err != nil {
		return nil, notFound(err, ErrPayoutNotFound)
	}
	return &payout, nil
}

// ClaimAttempt puts the payout in flight and bumps the attempt counter. Only
// a fresh row, a failed one or an attempt last touched before staleBefore can
// be claimed, and only while its transaction is PAID. false means another
// caller holds the attempt or the transaction moved on.
func (r *PayoutRepositoryImpl) ClaimAttempt(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ?", id).
		Where("(status = ? OR (status = ? AND (attempts = 0 OR updated_at < ?)))",
			models.PayoutFailed, models.PayoutPending, staleBefore).
		Where("EXISTS (SELECT 1 FROM transactions WHERE transactions.id = payouts.transaction_id AND transactions.state = ?)",
			models.StatePaid).
		Updates(map[string]interface{}{
			"status":     models.PayoutPending,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *PayoutRepositoryImpl) MarkSucceeded(ctx context.Context, id, providerReference string, now time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":             models.PayoutSuccess,
		"provider_reference": providerReference,
		"last_error":         nil,
		"completed_at":       now,
		"updated_at":         now,
	})
}

func (r *PayoutRepositoryImpl) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     models.PayoutFailed,
		"last_error": reason,
		"updated_at": now,
	})
}

func (r *PayoutRepositoryImpl) update(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPayoutNotFound
	}
	return nil
}
