package models

import "time"

// Payout - at most one per transaction. TransactionID, IdempotencyKey, Amount
// and Currency never change after insert; the outcome fields are written by
// the payout path.
type Payout struct {
	BaseModel
	TransactionID     string       `gorm:"size:36;not null;uniqueIndex" json:"transactionId"`
	IdempotencyKey    string       `gorm:"size:128;not null;uniqueIndex" json:"idempotencyKey"`
	Amount            string       `gorm:"size:32;not null" json:"amount"`
	Currency          string       `gorm:"size:3;not null" json:"currency"`
	Status            PayoutStatus `gorm:"size:16;not null" json:"status"`
	Attempts          int          `gorm:"not null;default:0" json:"attempts"`
	ProviderReference *string      `gorm:"size:128" json:"providerReference,omitempty"`
	LastError         *string      `gorm:"type:text" json:"lastError,omitempty"`
	CompletedAt       *time.Time   `json:"completedAt,omitempty"`
}
