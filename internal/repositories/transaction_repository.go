package repositories

import (
	"context"
	"time"

	"paylink_backend/internal/models"

	"gorm.io/gorm"
)

type TransactionRepository interface {
	// Transaction operations
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	FindByExternalReference(ctx context.Context, externalReference string) (*models.Transaction, error)
	SetExternalReference(ctx context.Context, id, externalReference string, now time.Time) (bool, error)

	// Conditional writes
	CompareAndSetState(ctx context.Context, id string, from, to models.TransactionState, now time.Time) (bool, error)
	RecordPayment(ctx context.Context, id string, rec PaymentRecord) (bool, error)
	ClearPaymentRecord(ctx context.Context, id string, now time.Time) (bool, error)

	// Processing lock
	AcquireLock(ctx context.Context, id, workerID string, now time.Time, lockTimeout time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, id, workerID string, checkedAt time.Time) (bool, error)

	// Reconciliation queries
	FindReconciliationCandidates(ctx context.Context, filter CandidateFilter) ([]models.Transaction, error)
	FindNewlyExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	FlagExpired(ctx context.Context, id string, now time.Time) (bool, error)
}

// PaymentRecord carries the fields written once by the recording path.
type PaymentRecord struct {
	ActualAmountPaid string
	SenderName       string
	SenderPhone      string
	PaidAt           time.Time
	RecordedAt       time.Time
}

// CandidateFilter selects transactions for one reconciliation cycle.
type CandidateFilter struct {
	Now         time.Time
	Cooldown    time.Duration
	InitGrace   time.Duration
	LockTimeout time.Duration
	Limit       int
}

type TransactionRepositoryImpl struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &TransactionRepositoryImpl{db: db}
}

func (r *TransactionRepositoryImpl) Create(ctx context.Context, txn *models.Transaction) error {
	err := r.db.WithContext(ctx).Create(txn).Error
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *TransactionRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, ErrTransactionNotFound)
	}
	return &txn, nil
}

func (r *TransactionRepositoryImpl) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error
	if err != nil {
		return nil, notFound(err, ErrTransactionNotFound)
	}
	return &txn, nil
}

func (r *TransactionRepositoryImpl) FindByExternalReference(ctx context.Context, externalReference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where("external_reference = ?", externalReference).First(&txn).Error
	if err != nil {
		return nil, notFound(err, ErrTransactionNotFound)
	}
	return &txn, nil
}

// SetExternalReference attaches the provider reference once. false means a
// reference is already stored and was left untouched.
func (r *TransactionRepositoryImpl) SetExternalReference(ctx context.Context, id, externalReference string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND external_reference IS NULL", id).
		Updates(map[string]interface{}{
			"external_reference": externalReference,
			"updated_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CompareAndSetState sets state=to only while state is still from.
// false means another writer got there first.
func (r *TransactionRepositoryImpl) CompareAndSetState(ctx context.Context, id string, from, to models.TransactionState, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]interface{}{
			"state":      to,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RecordPayment writes the recording fields only if they were never written
// and the payment is not already settled.
func (r *TransactionRepositoryImpl) RecordPayment(ctx context.Context, id string, rec PaymentRecord) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND recorded_at IS NULL AND state NOT IN ?", id,
			[]models.TransactionState{models.StatePaid, models.StateCompleted}).
		Updates(map[string]interface{}{
			"actual_amount_paid": rec.ActualAmountPaid,
			"sender_name":        rec.SenderName,
			"sender_phone":       rec.SenderPhone,
			"paid_at":            rec.PaidAt,
			"recorded_at":        rec.RecordedAt,
			"updated_at":         rec.RecordedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClearPaymentRecord undoes RecordPayment while the payment is not yet
// settled, so a recording whose transitions failed can be repeated.
func (r *TransactionRepositoryImpl) ClearPaymentRecord(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND recorded_at IS NOT NULL AND state NOT IN ?", id,
			[]models.TransactionState{models.StatePaid, models.StateCompleted}).
		Updates(map[string]interface{}{
			"actual_amount_paid": nil,
			"sender_name":        nil,
			"sender_phone":       nil,
			"paid_at":            nil,
			"recorded_at":        nil,
			"updated_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ============================================
// Processing lock
// ============================================

// AcquireLock claims the transaction for workerID when it is free or its
// current claim is older than lockTimeout.
func (r *TransactionRepositoryImpl) AcquireLock(ctx context.Context, id, workerID string, now time.Time, lockTimeout time.Duration) (bool, error) {
	staleBefore := now.Add(-lockTimeout)

	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND (processing_by IS NULL OR processing_started_at < ?)", id, staleBefore).
		Updates(map[string]interface{}{
			"processing_by":         workerID,
			"processing_started_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	// first verification attempt ever
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND verification_started_at IS NULL", id).
		Update("verification_started_at", now).Error
	if err != nil {
		return true, err
	}
	return true, nil
}

// ReleaseLock clears the claim held by workerID and stamps the verification
// check. false means the claim had already been taken over as stale.
func (r *TransactionRepositoryImpl) ReleaseLock(ctx context.Context, id, workerID string, checkedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND processing_by = ?", id, workerID).
		Updates(map[string]interface{}{
			"processing_by":           nil,
			"processing_started_at":   nil,
			"last_verification_check": checkedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ============================================
// Reconciliation queries
// ============================================

func (r *TransactionRepositoryImpl) FindReconciliationCandidates(ctx context.Context, f CandidateFilter) ([]models.Transaction, error) {
	var txns []models.Transaction

	query := r.db.WithContext(ctx).
		Where("expires_at > ?", f.Now).
		Where("expiry_flagged_at IS NULL").
		Where("(state = ? OR (state = ? AND created_at < ?))",
			models.StateInitialized, models.StatePending, f.Now.Add(-f.InitGrace)).
		Where("(last_verification_check IS NULL OR last_verification_check < ?)", f.Now.Add(-f.Cooldown)).
		Where("(processing_by IS NULL OR processing_started_at < ?)", f.Now.Add(-f.LockTimeout)).
		Order("created_at ASC")

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	err := query.Find(&txns).Error
	return txns, err
}

// FindNewlyExpired returns unresolved transactions past expiry that were
// never flagged.
func (r *TransactionRepositoryImpl) FindNewlyExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction

	query := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Where("expiry_flagged_at IS NULL").
		Where("state IN ?", []models.TransactionState{models.StatePending, models.StateInitialized}).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&txns).Error
	return txns, err
}

func (r *TransactionRepositoryImpl) FlagExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND expiry_flagged_at IS NULL AND expires_at <= ?", id, now).
		Updates(map[string]interface{}{
			"expiry_flagged_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
