package repositories

import (
	"context"
	"time"

	"paylink_backend/internal/models"

	"gorm.io/gorm"
)

type PaymentLinkRepository interface {
	Create(ctx context.Context, link *models.PaymentLink) error
	FindByID(ctx context.Context, id string) (*models.PaymentLink, error)
	FindByMerchant(ctx context.Context, merchantID string) ([]models.PaymentLink, error)
	SetActive(ctx context.Context, id string, active bool, now time.Time) (bool, error)
}

type PaymentLinkRepositoryImpl struct {
	db *gorm.DB
}

func NewPaymentLinkRepository(db *gorm.DB) PaymentLinkRepository {
	return &PaymentLinkRepositoryImpl{db: db}
}

func (r *PaymentLinkRepositoryImpl) Create(ctx context.Context, link *models.PaymentLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *PaymentLinkRepositoryImpl) FindByID(ctx context.Context, id string) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := r.db.WithContext(ctx).First(&link, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, ErrPaymentLinkNotFound)
	}
	return &link, nil
}

func (r *PaymentLinkRepositoryImpl) FindByMerchant(ctx context.Context, merchantID string) ([]models.PaymentLink, error) {
	var links []models.PaymentLink
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Find(&links).Error
	return links, err
}

// SetActive flips the flag only when it differs; false means nothing changed.
func (r *PaymentLinkRepositoryImpl) SetActive(ctx context.Context, id string, active bool, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.PaymentLink{}).
		Where("id = ? AND active = ?", id, !active).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
