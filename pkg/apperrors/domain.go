package apperrors

import (
	"fmt"
	"net/http"
)

/*
Sentinels and factories for the transaction lifecycle. Sentinels exist for
errors.Is comparisons; factories build a fresh error with context.
*/

// =========================================================================
// Sentinels
// =========================================================================

var ErrNotFound = New(CodeNotFound, "resource", "Resource not found", http.StatusNotFound)

var ErrInvalidTransition = New(
	CodeInvalidStateTransition,
	"state",
	"State transition is not allowed",
	http.StatusConflict,
)

var ErrConcurrentModification = &AppError{
	Code:      CodeConcurrentModification,
	Domain:    "state",
	Message:   "Transaction was modified concurrently, re-read and retry",
	HTTPCode:  http.StatusConflict,
	Retryable: true,
}

var ErrDuplicateReference = New(
	CodeDuplicateReference,
	"transaction",
	"Transaction reference already exists",
	http.StatusConflict,
)

var ErrAlreadyProcessed = New(
	CodeAlreadyProcessed,
	"transaction",
	"Transaction payment has already been recorded",
	http.StatusConflict,
)

var ErrCurrencyMismatch = New(
	CodeCurrencyMismatch,
	"transaction",
	"Currency does not match the transaction currency",
	http.StatusUnprocessableEntity,
)

var ErrProvider = New(
	CodeProviderError,
	"settlement",
	"Settlement provider error",
	http.StatusBadGateway,
)

var ErrAuditWriteFailed = New(
	CodeAuditWriteFailed,
	"audit",
	"Audit entry could not be written",
	http.StatusInternalServerError,
)

// ErrAuditImmutable - any update or delete of an audit entry.
var ErrAuditImmutable = New(
	CodeAuditImmutable,
	"audit",
	"Audit log entries are append-only",
	http.StatusForbidden,
)

var ErrLinkInactive = New(
	CodeLinkInactive,
	"payment_link",
	"Payment link is not active",
	http.StatusUnprocessableEntity,
)

var ErrDuplicateIdempotencyKey = New(
	CodeDuplicateIdempotencyKey,
	"payout",
	"Payout idempotency key conflicts with an existing payout",
	http.StatusConflict,
)

var ErrLockNotAcquired = &AppError{
	Code:      CodeLockNotAcquired,
	Domain:    "reconciliation",
	Message:   "Transaction is being processed by another worker",
	HTTPCode:  http.StatusConflict,
	Retryable: true,
}

var ErrRetryNotAllowed = New(
	CodeRetryNotAllowed,
	"payout",
	"Payout retry is not allowed by policy",
	http.StatusUnprocessableEntity,
)

var ErrInvalidSignature = New(
	CodeInvalidSignature,
	"settlement",
	"Webhook signature is invalid",
	http.StatusUnauthorized,
)

// =========================================================================
// Factories
// =========================================================================

// NotFound - "not found" for a named entity (404)
func NotFound(entity, id string) *AppError {
	return New(CodeNotFound, entity, fmt.Sprintf("%s %s not found", entity, id), http.StatusNotFound)
}

// InvalidTransition describes the rejected (from, to) pair.
func InvalidTransition(from, to string) *AppError {
	return ErrInvalidTransition.WithDetails(map[string]string{"from": from, "to": to})
}

// CurrencyMismatch describes the expected and the supplied currency.
func CurrencyMismatch(expected, got string) *AppError {
	return ErrCurrencyMismatch.WithDetails(map[string]string{"expected": expected, "got": got})
}

// ProviderError wraps a settlement provider failure.
func ProviderError(err error, retryable bool) *AppError {
	e := ErrProvider.WithError(err)
	e.Retryable = retryable
	return e
}

// AuditWriteError wraps a failed audit append.
func AuditWriteError(err error) *AppError {
	return ErrAuditWriteFailed.WithError(err)
}
