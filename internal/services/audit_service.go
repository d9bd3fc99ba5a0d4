package services

import (
	"context"
	"encoding/json"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/pkg/apperrors"

	"gorm.io/datatypes"
)

type AuditService interface {
	// Record appends one entry. The returned error is always an
	// AuditWriteError and never means the primary mutation failed.
	Record(ctx context.Context, entityType models.EntityType, entityID string, action models.AuditAction, changes, metadata interface{}) (*models.AuditLogEntry, error)

	History(ctx context.Context, entityType models.EntityType, entityID string) ([]models.AuditLogEntry, error)
	StateHistory(ctx context.Context, transactionID string) ([]models.AuditLogEntry, error)
}

type auditService struct {
	auditRepo repositories.AuditRepository
	clock     Clock
}

func NewAuditService(auditRepo repositories.AuditRepository, clock Clock) AuditService {
	if clock == nil {
		clock = SystemClock
	}
	return &auditService{auditRepo: auditRepo, clock: clock}
}

func (s *auditService) Record(ctx context.Context, entityType models.EntityType, entityID string, action models.AuditAction, changes, metadata interface{}) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Timestamp:  s.clock(),
	}

	if userID := logger.GetUserID(ctx); userID != "" {
		entry.UserID = &userID
	}
	if correlationID := logger.GetCorrelationID(ctx); correlationID != "" {
		entry.CorrelationID = &correlationID
	}

	var err error
	if entry.Changes, err = toJSON(changes); err != nil {
		return nil, s.fail(entry, err)
	}
	if entry.Metadata, err = toJSON(metadata); err != nil {
		return nil, s.fail(entry, err)
	}

	if err := s.auditRepo.Create(ctx, entry); err != nil {
		return nil, s.fail(entry, err)
	}
	return entry, nil
}

func (s *auditService) fail(entry *models.AuditLogEntry, err error) error {
	logger.AuditLog(string(entry.EntityType), entry.EntityID, string(entry.Action), err)
	return apperrors.AuditWriteError(err)
}

func (s *auditService) History(ctx context.Context, entityType models.EntityType, entityID string) ([]models.AuditLogEntry, error) {
	entries, err := s.auditRepo.FindByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return entries, nil
}

// StateHistory returns the STATE_TRANSITION entries of a transaction, oldest
// first.
func (s *auditService) StateHistory(ctx context.Context, transactionID string) ([]models.AuditLogEntry, error) {
	entries, err := s.auditRepo.FindByEntityAndAction(ctx, models.EntityTransaction, transactionID, models.ActionStateTransition)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return entries, nil
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(datatypes.JSON); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
