package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAuditEntryImmutable is returned by the gorm hooks below. The database
// triggers installed by migrations reject the same writes for raw SQL.
var ErrAuditEntryImmutable = errors.New("audit log entries are append-only")

type AuditLogEntry struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType    EntityType     `gorm:"size:32;not null;index:idx_audit_entity" json:"entityType"`
	EntityID      string         `gorm:"size:36;not null;index:idx_audit_entity" json:"entityId"`
	Action        AuditAction    `gorm:"size:32;not null;index" json:"action"`
	UserID        *string        `gorm:"size:64" json:"userId,omitempty"`
	Changes       datatypes.JSON `json:"changes,omitempty"`
	Metadata      datatypes.JSON `json:"metadata,omitempty"`
	Timestamp     time.Time      `gorm:"not null;index" json:"timestamp"`
	CorrelationID *string        `gorm:"size:64" json:"correlationId,omitempty"`
}

func (AuditLogEntry) TableName() string {
	return "audit_logs"
}

func (e *AuditLogEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditEntryImmutable
}

func (e *AuditLogEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditEntryImmutable
}
