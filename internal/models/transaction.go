package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionTTL is fixed at creation and never extended.
const TransactionTTL = 24 * time.Hour

type Transaction struct {
	BaseModel
	PaymentLinkID     string           `gorm:"size:36;not null;index" json:"paymentLinkId"`
	Reference         string           `gorm:"size:64;not null;uniqueIndex" json:"reference"`
	State             TransactionState `gorm:"size:20;not null;index" json:"state"`
	Amount            string           `gorm:"size:32;not null" json:"amount"`
	Currency          string           `gorm:"size:3;not null" json:"currency"`
	PayerInfo         datatypes.JSON   `json:"payerInfo,omitempty"`
	ExternalReference *string          `gorm:"size:128;index" json:"externalReference,omitempty"`

	// Written once by the recording path
	ActualAmountPaid *string    `gorm:"size:32" json:"actualAmountPaid,omitempty"`
	SenderName       *string    `gorm:"size:255" json:"senderName,omitempty"`
	SenderPhone      *string    `gorm:"size:64" json:"senderPhone,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	RecordedAt       *time.Time `json:"recordedAt,omitempty"`

	// Reconciliation
	LastVerificationCheck *time.Time `gorm:"index" json:"lastVerificationCheck,omitempty"`
	VerificationStartedAt *time.Time `json:"verificationStartedAt,omitempty"`
	ExpiresAt             time.Time  `gorm:"not null;index" json:"expiresAt"`
	ExpiryFlaggedAt       *time.Time `json:"expiryFlaggedAt,omitempty"`

	// Processing lock: both set or both nil
	ProcessingBy        *string    `gorm:"size:128" json:"processingBy,omitempty"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`
}

// IsLocked reports whether a worker currently claims the transaction.
func (t *Transaction) IsLocked() bool {
	return t.ProcessingBy != nil && t.ProcessingStartedAt != nil
}

// IsExpired reports whether reconciliation should no longer consider t.
func (t *Transaction) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// PaymentInitialization - one row per provider initialization attempt
type PaymentInitialization struct {
	BaseModel
	TransactionID     string               `gorm:"size:36;not null;index" json:"transactionId"`
	Status            InitializationStatus `gorm:"size:16;not null" json:"status"`
	ExternalReference *string              `gorm:"size:128" json:"externalReference,omitempty"`
	ProviderStatus    string               `gorm:"size:64" json:"providerStatus,omitempty"`
	RawResponse       datatypes.JSON       `json:"rawResponse,omitempty"`
	Error             *string              `gorm:"type:text" json:"error,omitempty"`
}

// FiatVerification - confirmed settlement evidence, at most one per transaction
type FiatVerification struct {
	BaseModel
	TransactionID     string             `gorm:"size:36;not null;uniqueIndex" json:"transactionId"`
	Method            VerificationMethod `gorm:"size:16;not null" json:"method"`
	ExternalReference string             `gorm:"size:128" json:"externalReference"`
	Amount            string             `gorm:"size:32" json:"amount"`
	Currency          string             `gorm:"size:3" json:"currency"`
	ProviderStatus    string             `gorm:"size:64" json:"providerStatus"`
	ConfirmedAt       *time.Time         `json:"confirmedAt,omitempty"`
	VerifiedBy        string             `gorm:"size:128" json:"verifiedBy"`
}
