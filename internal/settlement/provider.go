package settlement

import (
	"context"
	"time"
)

// InitRequest opens a payment request with the provider.
type InitRequest struct {
	Amount      string
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]interface{}
}

type InitResult struct {
	Success           bool   `json:"success"`
	ExternalReference string `json:"externalReference"`
	Status            string `json:"status"`
	Raw               []byte `json:"-"`
}

// StatusResult is the provider's view of a payment request.
type StatusResult struct {
	Status    string     `json:"status"`
	Confirmed bool       `json:"confirmed"`
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	Raw       []byte     `json:"-"`
}

type PayoutRequest struct {
	IdempotencyKey string
	Reference      string
	Amount         string
	Currency       string
}

type PayoutResult struct {
	ProviderReference string `json:"providerReference"`
	Status            string `json:"status"`
}

// Provider is the external settlement collaborator. Failures are returned as
// apperrors.ProviderError with the retryable flag set for transient faults.
type Provider interface {
	InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error)
	GetStatus(ctx context.Context, externalReference string) (*StatusResult, error)
}

// PayoutProvider sends merchant payouts for settled transactions.
type PayoutProvider interface {
	SendPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}
