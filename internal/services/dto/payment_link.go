package dto

// ======================
// Request DTOs
// ======================

type CreatePaymentLinkRequest struct {
	MerchantID  string `json:"-" validate:"-"` // Set by server from auth
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	Amount      string `json:"amount" validate:"required,is-amount"`
	Currency    string `json:"currency" validate:"required,is-currency"`
}
