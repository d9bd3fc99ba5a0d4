package handlers

import "paylink_backend/internal/stream"

// AppHandlers holds every HTTP handler of the application.
type AppHandlers struct {
	PaymentLinkHandler *PaymentLinkHandler
	TransactionHandler *TransactionHandler
	PayoutHandler      *PayoutHandler
	WebhookHandler     *WebhookHandler
	StreamHandler      *stream.Handler // nil when the live stream is disabled
}
