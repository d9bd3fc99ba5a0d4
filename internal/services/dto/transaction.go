package dto

import "time"

// ======================
// Request DTOs
// ======================

type CreateTransactionRequest struct {
	PaymentLinkID string                 `json:"paymentLinkId" validate:"required,uuid"`
	PayerInfo     map[string]interface{} `json:"payerInfo,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// RecordTransactionRequest confirms a payment that arrived out of band.
type RecordTransactionRequest struct {
	Amount      string    `json:"amount" validate:"required,is-amount"`
	Currency    string    `json:"currency" validate:"required,is-currency"`
	SenderName  string    `json:"senderName" validate:"required,max=255"`
	SenderPhone string    `json:"senderPhone" validate:"required,max=64"`
	PaidAt      time.Time `json:"paidAt" validate:"required"`
}

type TriggerPayoutRequest struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=128"`
}

type RetryPayoutRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ======================
// Response DTOs
// ======================

type StateHistoryItem struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	UserID        *string   `json:"userId,omitempty"`
	CorrelationID *string   `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type CycleReport struct {
	Candidates  int           `json:"candidates"`
	Confirmed   int           `json:"confirmed"`
	Initialized int           `json:"initialized"`
	Pending     int           `json:"pending"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Expired     int           `json:"expired"`
	Duration    time.Duration `json:"duration"`
}

// ======================
// Query DTOs
// ======================

type StateHistoryQuery struct {
	To string `form:"to" json:"to" validate:"omitempty,is-tx-state"`
}
