package services

// ServiceContainer holds every service of the application.
type ServiceContainer struct {
	AuditService          AuditService
	AuditInterceptor      AuditInterceptor
	StateManager          StateManager
	TransactionService    TransactionService
	ReconciliationService ReconciliationService
	PayoutService         PayoutService
	PaymentLinkService    PaymentLinkService
}
