package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/services/dto"
	"paylink_backend/internal/settlement"
	"paylink_backend/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TransactionService interface {
	Create(ctx context.Context, req *dto.CreateTransactionRequest) (*models.Transaction, error)
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	InitializePayment(ctx context.Context, transactionID string) (*models.Transaction, error)
	RecordTransaction(ctx context.Context, transactionID string, req *dto.RecordTransactionRequest) (*models.Transaction, error)
	GetStateHistory(ctx context.Context, transactionID string) ([]dto.StateHistoryItem, error)
}

type transactionService struct {
	txRepo       repositories.TransactionRepository
	linkRepo     repositories.PaymentLinkRepository
	verifyRepo   repositories.VerificationRepository
	stateManager StateManager
	audit        AuditService
	interceptor  AuditInterceptor
	provider     settlement.Provider
	callbackURL  string
	newReference ReferenceGenerator
	clock        Clock
	lock         *processingLock
}

// TransactionServiceDeps - constructor arguments; nil Clock and
// NewReference fall back to the system defaults, a zero LockTimeout to
// DefaultLockTimeout.
type TransactionServiceDeps struct {
	TxRepo       repositories.TransactionRepository
	LinkRepo     repositories.PaymentLinkRepository
	VerifyRepo   repositories.VerificationRepository
	StateManager StateManager
	Audit        AuditService
	Interceptor  AuditInterceptor
	Provider     settlement.Provider
	CallbackURL  string
	NewReference ReferenceGenerator
	LockTimeout  time.Duration
	Clock        Clock
}

func NewTransactionService(deps TransactionServiceDeps) TransactionService {
	s := &transactionService{
		txRepo:       deps.TxRepo,
		linkRepo:     deps.LinkRepo,
		verifyRepo:   deps.VerifyRepo,
		stateManager: deps.StateManager,
		audit:        deps.Audit,
		interceptor:  deps.Interceptor,
		provider:     deps.Provider,
		callbackURL:  deps.CallbackURL,
		newReference: deps.NewReference,
		clock:        deps.Clock,
	}
	if s.newReference == nil {
		s.newReference = NewReference
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	s.lock = newProcessingLock(deps.TxRepo, deps.LockTimeout, s.clock)
	return s
}

// ---------------- Create / Get ----------------

func (s *transactionService) Create(ctx context.Context, req *dto.CreateTransactionRequest) (*models.Transaction, error) {
	link, err := s.linkRepo.FindByID(ctx, req.PaymentLinkID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentLinkNotFound) {
			return nil, apperrors.NotFound("payment_link", req.PaymentLinkID)
		}
		return nil, apperrors.DatabaseError(err)
	}
	if !link.Active {
		return nil, apperrors.ErrLinkInactive.WithDetails(map[string]string{"paymentLinkId": link.ID})
	}

	payerInfo, err := toJSON(req.PayerInfo)
	if err != nil {
		return nil, apperrors.ValidationError(map[string]string{"payerInfo": "must be a JSON object"})
	}
	metadata, err := toJSON(req.Metadata)
	if err != nil {
		return nil, apperrors.ValidationError(map[string]string{"metadata": "must be a JSON object"})
	}

	now := s.clock()
	txn := &models.Transaction{
		BaseModel: models.BaseModel{
			CreatedAt: now,
			UpdatedAt: now,
		},
		PaymentLinkID: link.ID,
		Reference:     s.newReference(now),
		State:         models.StatePending,
		Amount:        link.Amount,
		Currency:      link.Currency,
		PayerInfo:     payerInfo,
		Metadata:      metadata,
		ExpiresAt:     now.Add(models.TransactionTTL),
	}

	if err := s.txRepo.Create(ctx, txn); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, apperrors.ErrDuplicateReference.WithDetails(map[string]string{"reference": txn.Reference})
		}
		return nil, apperrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "transaction created",
		"transaction_id", txn.ID,
		"reference", txn.Reference,
		"payment_link_id", link.ID,
	)

	if err := s.interceptor.Created(ctx, models.EntityTransaction, txn.ID, txn); err != nil {
		return txn, err
	}
	return txn, nil
}

func (s *transactionService) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.load(ctx, transactionID)
}

func (s *transactionService) load(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apperrors.NotFound("transaction", transactionID)
		}
		return nil, apperrors.DatabaseError(err)
	}
	return txn, nil
}

// ---------------- Initialization ----------------

// InitializePayment makes exactly one provider call under the processing
// lock. A failure leaves the transaction PENDING; retrying is up to the
// caller or the reconciler.
func (s *transactionService) InitializePayment(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.State != models.StatePending {
		return nil, apperrors.InvalidTransition(string(txn.State), string(models.StateInitialized))
	}

	var updated *models.Transaction
	acquired, err := s.lock.run(ctx, txn.ID, "init-"+uuid.NewString(), func(ctx context.Context, current *models.Transaction) error {
		var initErr error
		updated, initErr = s.initialize(ctx, current)
		return initErr
	})
	if !acquired && err == nil {
		return nil, apperrors.ErrLockNotAcquired
	}
	return updated, err
}

// initialize runs one initialization attempt. Caller holds the lock.
func (s *transactionService) initialize(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if txn.State != models.StatePending {
		return nil, apperrors.InvalidTransition(string(txn.State), string(models.StateInitialized))
	}
	if txn.ExternalReference != nil && *txn.ExternalReference != "" {
		// the provider already announced a payment request for this transaction
		updated, err := s.stateManager.Transition(ctx, txn.ID, models.StateInitialized,
			"initialization confirmed by settlement evidence",
			map[string]interface{}{"externalReference": *txn.ExternalReference})
		if err != nil && !apperrors.IsNonFatal(err) {
			return nil, err
		}
		return updated, err
	}

	var meta map[string]interface{}
	if len(txn.Metadata) > 0 {
		_ = json.Unmarshal(txn.Metadata, &meta)
	}

	result, callErr := s.provider.InitializePayment(ctx, settlement.InitRequest{
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Reference:   txn.Reference,
		CallbackURL: s.callbackURL,
		Metadata:    meta,
	})
	if callErr == nil && (result == nil || !result.Success || result.ExternalReference == "") {
		callErr = fmt.Errorf("provider declined initialization")
	}

	init := &models.PaymentInitialization{TransactionID: txn.ID}
	if result != nil {
		init.ProviderStatus = result.Status
		init.RawResponse = rawJSON(result.Raw)
	}

	if callErr != nil {
		msg := callErr.Error()
		init.Status = models.InitializationFailed
		init.Error = &msg
	} else {
		ext := result.ExternalReference
		init.Status = models.InitializationSuccess
		init.ExternalReference = &ext
	}

	if err := s.verifyRepo.CreateInitialization(ctx, init); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	_, auditErr := s.audit.Record(ctx, models.EntityTransaction, txn.ID, models.ActionInitializationAttempt,
		map[string]interface{}{
			"status":            init.Status,
			"externalReference": init.ExternalReference,
		},
		map[string]interface{}{
			"initializationId": init.ID,
			"providerStatus":   init.ProviderStatus,
			"error":            init.Error,
		},
	)

	if callErr != nil {
		logger.CtxWarn(ctx, "payment initialization failed",
			"transaction_id", txn.ID,
			"error", callErr.Error(),
		)
		return txn, apperrors.ProviderError(callErr, true)
	}

	set, err := s.txRepo.SetExternalReference(ctx, txn.ID, result.ExternalReference, s.clock())
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !set {
		// the stored reference is the one the payer sees; this request is orphaned
		logger.CtxWarn(ctx, "external reference already set, discarding initialization",
			"transaction_id", txn.ID,
			"external_reference", result.ExternalReference,
		)
		return nil, apperrors.ErrConcurrentModification.WithDetails(map[string]string{
			"transactionId": txn.ID,
			"field":         "externalReference",
		})
	}

	updated, err := s.stateManager.Transition(ctx, txn.ID, models.StateInitialized, "payment initialized", map[string]interface{}{
		"externalReference": result.ExternalReference,
	})
	if err != nil && !apperrors.IsNonFatal(err) {
		return nil, err
	}
	return updated, firstNonFatal(auditErr, err)
}

// ---------------- Recording ----------------

// RecordTransaction confirms a payment that arrived outside the provider
// flow and drives the transaction through PAID to COMPLETED. The record and
// its transitions run under the processing lock; if the chain stops before
// PAID the record is cleared so the call can be repeated.
func (s *transactionService) RecordTransaction(ctx context.Context, transactionID string, req *dto.RecordTransactionRequest) (*models.Transaction, error) {
	if _, err := ParseAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if err := ValidateCurrency("currency", req.Currency); err != nil {
		return nil, err
	}

	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.checkRecordable(ctx, txn, req); err != nil {
		return nil, err
	}

	var updated *models.Transaction
	acquired, err := s.lock.run(ctx, txn.ID, "record-"+uuid.NewString(), func(ctx context.Context, current *models.Transaction) error {
		var recordErr error
		updated, recordErr = s.record(ctx, current, req)
		return recordErr
	})
	if !acquired && err == nil {
		return nil, apperrors.ErrLockNotAcquired
	}
	return updated, err
}

// checkRecordable validates a recording against the current row and returns
// the transitions that lead to PAID. Nothing is written.
func (s *transactionService) checkRecordable(ctx context.Context, txn *models.Transaction, req *dto.RecordTransactionRequest) ([]models.TransactionState, error) {
	if txn.State == models.StatePaid || txn.State == models.StateCompleted || txn.RecordedAt != nil {
		return nil, alreadyProcessed(txn)
	}
	if req.Currency != txn.Currency {
		return nil, apperrors.CurrencyMismatch(txn.Currency, req.Currency)
	}
	path, err := pathToPaid(txn.State)
	if err != nil {
		return nil, err
	}
	if err := s.stateManager.Check(ctx, txn, path[0]); err != nil {
		return nil, err
	}
	return path, nil
}

// record writes the payment fields and walks the chain. Caller holds the lock.
func (s *transactionService) record(ctx context.Context, txn *models.Transaction, req *dto.RecordTransactionRequest) (*models.Transaction, error) {
	path, err := s.checkRecordable(ctx, txn, req)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	rec := repositories.PaymentRecord{
		ActualAmountPaid: req.Amount,
		SenderName:       req.SenderName,
		SenderPhone:      req.SenderPhone,
		PaidAt:           req.PaidAt.UTC(),
		RecordedAt:       now,
	}

	ok, err := s.txRepo.RecordPayment(ctx, txn.ID, rec)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, alreadyProcessed(txn)
	}

	var nonFatal error
	for _, step := range append(path, models.StateCompleted) {
		_, err := s.stateManager.Transition(ctx, txn.ID, step, "payment recorded manually", nil)
		if err != nil && !apperrors.IsNonFatal(err) {
			s.revertRecord(ctx, txn.ID, step, err)
			return nil, err
		}
		nonFatal = firstNonFatal(nonFatal, err)
	}

	_, auditErr := s.audit.Record(ctx, models.EntityTransaction, txn.ID, models.ActionPaymentRecorded,
		map[string]interface{}{
			"actualAmountPaid": rec.ActualAmountPaid,
			"senderName":       rec.SenderName,
			"senderPhone":      rec.SenderPhone,
			"paidAt":           rec.PaidAt,
			"recordedAt":       rec.RecordedAt,
		},
		nil,
	)

	updated, err := s.load(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	return updated, firstNonFatal(nonFatal, auditErr)
}

// revertRecord clears the payment fields after a failed step. Once PAID was
// reached the record stays: the payment is settled and can still be paid out.
func (s *transactionService) revertRecord(ctx context.Context, transactionID string, step models.TransactionState, cause error) {
	cleared, err := s.txRepo.ClearPaymentRecord(context.WithoutCancel(ctx), transactionID, s.clock())
	switch {
	case err != nil:
		logger.CtxWithError(ctx, "failed to clear payment record after a failed transition", err,
			"transaction_id", transactionID,
			"step", step,
		)
	case cleared:
		logger.CtxWarn(ctx, "payment record cleared after a failed transition",
			"transaction_id", transactionID,
			"step", step,
			"error", cause.Error(),
		)
	default:
		logger.CtxWarn(ctx, "payment recorded but the transaction stopped short of COMPLETED",
			"transaction_id", transactionID,
			"step", step,
			"error", cause.Error(),
		)
	}
}

// pathToPaid lists the transitions that take a not-yet-paid state to PAID.
func pathToPaid(from models.TransactionState) ([]models.TransactionState, error) {
	switch from {
	case models.StatePending:
		return []models.TransactionState{models.StateInitialized, models.StatePaid}, nil
	case models.StateInitialized, models.StatePayoutFailed:
		return []models.TransactionState{models.StatePaid}, nil
	default:
		return nil, apperrors.InvalidTransition(string(from), string(models.StatePaid))
	}
}

func alreadyProcessed(txn *models.Transaction) error {
	return apperrors.ErrAlreadyProcessed.WithDetails(map[string]string{
		"transactionId": txn.ID,
		"state":         string(txn.State),
	})
}

// ---------------- History ----------------

func (s *transactionService) GetStateHistory(ctx context.Context, transactionID string) ([]dto.StateHistoryItem, error) {
	if _, err := s.load(ctx, transactionID); err != nil {
		return nil, err
	}

	entries, err := s.audit.StateHistory(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return BuildStateHistory(entries), nil
}

// BuildStateHistory decodes STATE_TRANSITION entries into history items.
func BuildStateHistory(entries []models.AuditLogEntry) []dto.StateHistoryItem {
	items := make([]dto.StateHistoryItem, 0, len(entries))
	for _, e := range entries {
		var change struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		var meta struct {
			Reason string `json:"reason"`
		}
		if len(e.Changes) > 0 {
			_ = json.Unmarshal(e.Changes, &change)
		}
		if len(e.Metadata) > 0 {
			_ = json.Unmarshal(e.Metadata, &meta)
		}
		items = append(items, dto.StateHistoryItem{
			From:          change.From,
			To:            change.To,
			Reason:        meta.Reason,
			UserID:        e.UserID,
			CorrelationID: e.CorrelationID,
			Timestamp:     e.Timestamp,
		})
	}
	return items
}

// ---------------- helpers ----------------

// firstNonFatal keeps the first audit-only failure of a multi-step operation.
func firstNonFatal(errs ...error) error {
	for _, err := range errs {
		if err != nil && apperrors.IsNonFatal(err) {
			return err
		}
	}
	return nil
}

func rawJSON(b []byte) datatypes.JSON {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return datatypes.JSON(b)
}
