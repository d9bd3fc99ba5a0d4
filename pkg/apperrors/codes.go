package apperrors

// ErrorCode - machine-readable error kind
type ErrorCode string

// Generic codes
const (
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
	CodeDatabaseError        ErrorCode = "DATABASE_ERROR"
	CodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"

	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeConflict         ErrorCode = "CONFLICT"

	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
)

// Transaction lifecycle codes
const (
	CodeInvalidStateTransition  ErrorCode = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification  ErrorCode = "CONCURRENT_MODIFICATION"
	CodeDuplicateReference      ErrorCode = "DUPLICATE_REFERENCE"
	CodeAlreadyProcessed        ErrorCode = "ALREADY_PROCESSED"
	CodeCurrencyMismatch        ErrorCode = "CURRENCY_MISMATCH"
	CodeProviderError           ErrorCode = "PROVIDER_ERROR"
	CodeAuditWriteFailed        ErrorCode = "AUDIT_WRITE_FAILED"
	CodeAuditImmutable          ErrorCode = "AUDIT_IMMUTABLE"
	CodeLinkInactive            ErrorCode = "LINK_INACTIVE"
	CodeDuplicateIdempotencyKey ErrorCode = "DUPLICATE_IDEMPOTENCY_KEY"
	CodeLockNotAcquired         ErrorCode = "LOCK_NOT_ACQUIRED"
	CodeRetryNotAllowed         ErrorCode = "RETRY_NOT_ALLOWED"
	CodeInvalidSignature        ErrorCode = "INVALID_SIGNATURE"
)
