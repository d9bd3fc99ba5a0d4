package repositories

import (
	"context"

	"paylink_backend/internal/models"

	"gorm.io/gorm"
)

// VerificationRepository stores provider initialization attempts and the
// confirmed settlement evidence of a transaction.
type VerificationRepository interface {
	CreateInitialization(ctx context.Context, init *models.PaymentInitialization) error
	FindInitializations(ctx context.Context, transactionID string) ([]models.PaymentInitialization, error)

	CreateFiatVerification(ctx context.Context, v *models.FiatVerification) error
	FindFiatVerification(ctx context.Context, transactionID string) (*models.FiatVerification, error)
}

type VerificationRepositoryImpl struct {
	db *gorm.DB
}

func NewVerificationRepository(db *gorm.DB) VerificationRepository {
	return &VerificationRepositoryImpl{db: db}
}

func (r *VerificationRepositoryImpl) CreateInitialization(ctx context.Context, init *models.PaymentInitialization) error {
	return r.db.WithContext(ctx).Create(init).Error
}

func (r *VerificationRepositoryImpl) FindInitializations(ctx context.Context, transactionID string) ([]models.PaymentInitialization, error) {
	var inits []models.PaymentInitialization
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&inits).Error
	return inits, err
}

// CreateFiatVerification returns ErrDuplicateKey when evidence already exists.
func (r *VerificationRepositoryImpl) CreateFiatVerification(ctx context.Context, v *models.FiatVerification) error {
	err := r.db.WithContext(ctx).Create(v).Error
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *VerificationRepositoryImpl) FindFiatVerification(ctx context.Context, transactionID string) (*models.FiatVerification, error) {
	var v models.FiatVerification
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&v).Error
	if err != nil {
		return nil, notFound(err, ErrVerificationNotFound)
	}
	return &v, nil
}
