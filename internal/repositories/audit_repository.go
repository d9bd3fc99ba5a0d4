package repositories

import (
	"context"
	"encoding/json"

	"paylink_backend/internal/models"

	"gorm.io/gorm"
)

// AuditRepository is append-only. Update and Delete exist so callers get a
// typed refusal instead of reaching for the raw connection.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	FindByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.AuditLogEntry, error)
	FindByEntityAndAction(ctx context.Context, entityType models.EntityType, entityID string, action models.AuditAction) ([]models.AuditLogEntry, error)
	CountTransitions(ctx context.Context, entityID string, from, to models.TransactionState) (int, error)
	Update(ctx context.Context, entry *models.AuditLogEntry) error
	Delete(ctx context.Context, id uint64) error
}

type AuditRepositoryImpl struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &AuditRepositoryImpl{db: db}
}

func (r *AuditRepositoryImpl) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByEntity returns entries in insertion order.
func (r *AuditRepositoryImpl) FindByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("timestamp ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *AuditRepositoryImpl) FindByEntityAndAction(ctx context.Context, entityType models.EntityType, entityID string, action models.AuditAction) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND action = ?", entityType, entityID, action).
		Order("timestamp ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// CountTransitions counts STATE_TRANSITION entries of a transaction matching
// from -> to. Changes is decoded in Go so the query stays portable across
// the JSON dialects.
func (r *AuditRepositoryImpl) CountTransitions(ctx context.Context, entityID string, from, to models.TransactionState) (int, error) {
	entries, err := r.FindByEntityAndAction(ctx, models.EntityTransaction, entityID, models.ActionStateTransition)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entries {
		var change struct {
			From models.TransactionState `json:"from"`
			To   models.TransactionState `json:"to"`
		}
		if len(e.Changes) == 0 {
			continue
		}
		if err := json.Unmarshal(e.Changes, &change); err != nil {
			continue
		}
		if change.From == from && change.To == to {
			count++
		}
	}
	return count, nil
}

func (r *AuditRepositoryImpl) Update(ctx context.Context, entry *models.AuditLogEntry) error {
	return models.ErrAuditEntryImmutable
}

func (r *AuditRepositoryImpl) Delete(ctx context.Context, id uint64) error {
	return models.ErrAuditEntryImmutable
}
