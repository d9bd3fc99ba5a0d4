package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/services/dto"
	"paylink_backend/internal/settlement"
	"paylink_backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var ErrCycleInProgress = errors.New("reconciliation cycle already running")

// Outcome of one verification attempt.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeInitialized Outcome = "initialized"
	OutcomePending     Outcome = "pending"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
)

type ReconciliationOptions struct {
	WorkerID    string
	Workers     int
	BatchSize   int
	Cooldown    time.Duration
	LockTimeout time.Duration
	InitGrace   time.Duration
}

type ReconciliationService interface {
	// RunCycle flags newly expired transactions, then verifies one batch of
	// candidates. Overlapping calls get ErrCycleInProgress.
	RunCycle(ctx context.Context) (*dto.CycleReport, error)

	// Verify re-checks one transaction on operator request.
	Verify(ctx context.Context, transactionID string) (*models.Transaction, error)

	// HandleWebhook applies an inbound provider notification under the
	// same processing lock as polling.
	HandleWebhook(ctx context.Context, payload *settlement.WebhookPayload) (*models.Transaction, error)
}

type reconciliationService struct {
	txRepo       repositories.TransactionRepository
	verifyRepo   repositories.VerificationRepository
	txService    TransactionService
	stateManager StateManager
	audit        AuditService
	interceptor  AuditInterceptor
	provider     settlement.Provider
	opts         ReconciliationOptions
	clock        Clock
	lock         *processingLock

	running atomic.Bool
}

func NewReconciliationService(
	txRepo repositories.TransactionRepository,
	verifyRepo repositories.VerificationRepository,
	txService TransactionService,
	stateManager StateManager,
	audit AuditService,
	interceptor AuditInterceptor,
	provider settlement.Provider,
	opts ReconciliationOptions,
	clock Clock,
) ReconciliationService {
	if opts.WorkerID == "" {
		opts.WorkerID = "reconciler-" + uuid.NewString()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if clock == nil {
		clock = SystemClock
	}
	return &reconciliationService{
		txRepo:       txRepo,
		verifyRepo:   verifyRepo,
		txService:    txService,
		stateManager: stateManager,
		audit:        audit,
		interceptor:  interceptor,
		provider:     provider,
		opts:         opts,
		clock:        clock,
		lock:         newProcessingLock(txRepo, opts.LockTimeout, clock),
	}
}

// evidence is what a poll, webhook or operator check learned from the provider.
type evidence struct {
	method            models.VerificationMethod
	confirmed         bool
	status            string
	externalReference string
	amount            string
	currency          string
	paidAt            *time.Time
}

// ---------------- Cycle ----------------

func (s *reconciliationService) RunCycle(ctx context.Context) (*dto.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	started := time.Now()
	now := s.clock()
	report := &dto.CycleReport{}

	expired, err := s.flagExpired(ctx, now)
	if err != nil && !apperrors.IsNonFatal(err) {
		logger.WorkerLog(s.opts.WorkerID, "flag_expired", err)
	}
	report.Expired = expired

	candidates, err := s.txRepo.FindReconciliationCandidates(ctx, repositories.CandidateFilter{
		Now:         now,
		Cooldown:    s.opts.Cooldown,
		InitGrace:   s.opts.InitGrace,
		LockTimeout: s.opts.LockTimeout,
		Limit:       s.opts.BatchSize,
	})
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	report.Candidates = len(candidates)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			outcome := s.safeProcess(ctx, candidate)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeConfirmed:
				report.Confirmed++
			case OutcomeInitialized:
				report.Initialized++
			case OutcomePending:
				report.Pending++
			case OutcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	logger.WorkerLog(s.opts.WorkerID, "reconciliation_cycle", nil,
		"candidates", report.Candidates,
		"confirmed", report.Confirmed,
		"initialized", report.Initialized,
		"pending", report.Pending,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"expired", report.Expired,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// safeProcess isolates one candidate: errors and panics are logged and
// never reach the rest of the cycle.
func (s *reconciliationService) safeProcess(ctx context.Context, txn models.Transaction) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.WorkerLog(s.opts.WorkerID, "verify_candidate", fmt.Errorf("panic: %v", r),
				"transaction_id", txn.ID)
			outcome = OutcomeFailed
		}
	}()

	outcome, err := s.withLock(ctx, txn.ID, s.opts.WorkerID, func(ctx context.Context, current *models.Transaction) (Outcome, error) {
		if !current.State.IsUnresolved() || current.IsExpired(s.clock()) {
			return OutcomeSkipped, nil
		}
		return s.verifyLocked(ctx, current, s.opts.WorkerID)
	})
	if err != nil && !apperrors.IsNonFatal(err) {
		logger.WorkerLog(s.opts.WorkerID, "verify_candidate", err,
			"transaction_id", txn.ID,
			"outcome", outcome)
	}
	return outcome
}

// withLock runs fn while holding the processing lock for workerID. A lock
// held by another worker yields OutcomeSkipped without calling fn.
func (s *reconciliationService) withLock(ctx context.Context, transactionID, workerID string, fn func(ctx context.Context, txn *models.Transaction) (Outcome, error)) (Outcome, error) {
	var outcome Outcome
	acquired, err := s.lock.run(ctx, transactionID, workerID, func(ctx context.Context, txn *models.Transaction) error {
		var fnErr error
		outcome, fnErr = fn(ctx, txn)
		return fnErr
	})
	if !acquired && err == nil {
		return OutcomeSkipped, nil
	}
	if outcome == "" {
		outcome = OutcomeFailed
	}
	return outcome, err
}

// verifyLocked runs the per-state check. Caller holds the lock.
func (s *reconciliationService) verifyLocked(ctx context.Context, txn *models.Transaction, workerID string) (Outcome, error) {
	switch txn.State {
	case models.StatePending:
		// initialization never succeeded: retry it
		_, err := s.txService.InitializePayment(ctx, txn.ID)
		if err != nil && !apperrors.IsNonFatal(err) {
			return OutcomeFailed, err
		}
		return OutcomeInitialized, nil

	case models.StateInitialized:
		if txn.ExternalReference == nil || *txn.ExternalReference == "" {
			return OutcomeFailed, fmt.Errorf("transaction %s has no external reference", txn.ID)
		}
		status, err := s.provider.GetStatus(ctx, *txn.ExternalReference)
		if err != nil {
			return OutcomeFailed, err
		}
		return s.apply(ctx, txn, evidence{
			method:            models.VerificationPolling,
			confirmed:         status.Confirmed,
			status:            status.Status,
			externalReference: *txn.ExternalReference,
			amount:            status.Amount,
			currency:          status.Currency,
			paidAt:            status.PaidAt,
		}, workerID)

	default:
		return OutcomeSkipped, nil
	}
}

// apply turns provider evidence into FiatVerification + INITIALIZED->PAID.
func (s *reconciliationService) apply(ctx context.Context, txn *models.Transaction, ev evidence, workerID string) (Outcome, error) {
	if !ev.confirmed {
		return OutcomePending, nil
	}
	if ev.currency != "" && ev.currency != txn.Currency {
		logger.CtxWarn(ctx, "settlement evidence currency mismatch, not confirming",
			"transaction_id", txn.ID,
			"expected", txn.Currency,
			"got", ev.currency,
			"method", ev.method,
		)
		return OutcomePending, nil
	}
	if ev.amount != "" && !amountsEqual(ev.amount, txn.Amount) {
		logger.CtxWarn(ctx, "settlement evidence amount mismatch, not confirming",
			"transaction_id", txn.ID,
			"expected", txn.Amount,
			"got", ev.amount,
			"method", ev.method,
		)
		return OutcomePending, nil
	}

	now := s.clock()
	confirmedAt := now
	if ev.paidAt != nil {
		confirmedAt = ev.paidAt.UTC()
	}
	amount := ev.amount
	if amount == "" {
		amount = txn.Amount
	}

	verification := &models.FiatVerification{
		TransactionID:     txn.ID,
		Method:            ev.method,
		ExternalReference: ev.externalReference,
		Amount:            amount,
		Currency:          txn.Currency,
		ProviderStatus:    ev.status,
		ConfirmedAt:       &confirmedAt,
		VerifiedBy:        workerID,
	}

	var nonFatal error
	err := s.verifyRepo.CreateFiatVerification(ctx, verification)
	switch {
	case errors.Is(err, repositories.ErrDuplicateKey):
		// a previous attempt stored the evidence and died before the transition
		logger.CtxInfo(ctx, "fiat verification already stored", "transaction_id", txn.ID)
	case err != nil:
		return OutcomeFailed, apperrors.DatabaseError(err)
	default:
		nonFatal = s.interceptor.Created(ctx, models.EntityFiatVerification, verification.ID, verification)
	}

	if txn.State == models.StatePending {
		_, err := s.stateManager.Transition(ctx, txn.ID, models.StateInitialized,
			"initialization confirmed by settlement evidence", map[string]interface{}{"method": ev.method})
		if err != nil && !apperrors.IsNonFatal(err) {
			return OutcomeFailed, err
		}
		nonFatal = firstNonFatal(nonFatal, err)
	}

	_, err = s.stateManager.Transition(ctx, txn.ID, models.StatePaid,
		fmt.Sprintf("fiat verified via %s", ev.method),
		map[string]interface{}{
			"method":   ev.method,
			"workerId": workerID,
		})
	if err != nil && !apperrors.IsNonFatal(err) {
		return OutcomeFailed, err
	}
	return OutcomeConfirmed, firstNonFatal(nonFatal, err)
}

// ---------------- Expiry ----------------

// flagExpired marks unresolved transactions whose expiresAt has passed. The
// state graph is untouched; the flag keeps them out of future candidate sets.
func (s *reconciliationService) flagExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.txRepo.FindNewlyExpired(ctx, now, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	flagged := 0
	var nonFatal error
	for _, txn := range expired {
		ok, err := s.txRepo.FlagExpired(ctx, txn.ID, now)
		if err != nil {
			logger.WorkerLog(s.opts.WorkerID, "flag_expired", err, "transaction_id", txn.ID)
			continue
		}
		if !ok {
			continue
		}
		flagged++

		_, auditErr := s.audit.Record(ctx, models.EntityTransaction, txn.ID, models.ActionExpired,
			map[string]interface{}{"expiryFlaggedAt": now},
			map[string]interface{}{
				"state":     txn.State,
				"expiresAt": txn.ExpiresAt,
			},
		)
		nonFatal = firstNonFatal(nonFatal, auditErr)
	}
	return flagged, nonFatal
}

// ---------------- Manual and webhook paths ----------------

func (s *reconciliationService) Verify(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.txService.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !txn.State.IsUnresolved() {
		return txn, nil
	}

	workerID := "manual-" + uuid.NewString()
	outcome, err := s.withLock(ctx, txn.ID, workerID, func(ctx context.Context, current *models.Transaction) (Outcome, error) {
		return s.verifyLocked(ctx, current, workerID)
	})
	if err != nil && !apperrors.IsNonFatal(err) {
		return nil, err
	}
	return s.afterLockedCall(ctx, txn.ID, outcome, err)
}

// afterLockedCall reloads the transaction. A skipped attempt on a still
// unresolved transaction means another worker holds the lock.
func (s *reconciliationService) afterLockedCall(ctx context.Context, transactionID string, outcome Outcome, nonFatal error) (*models.Transaction, error) {
	current, err := s.txService.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeSkipped && current.State.IsUnresolved() {
		return nil, apperrors.ErrLockNotAcquired
	}
	return current, nonFatal
}

func (s *reconciliationService) HandleWebhook(ctx context.Context, payload *settlement.WebhookPayload) (*models.Transaction, error) {
	txn, err := s.resolveWebhookTransaction(ctx, payload)
	if err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "settlement webhook received",
		"transaction_id", txn.ID,
		"event", payload.Event,
		"status", payload.Status,
		"confirmed", payload.Confirmed,
	)

	if !txn.State.IsUnresolved() {
		// redelivery after the transaction already moved on
		return txn, nil
	}

	workerID := "webhook-" + uuid.NewString()
	outcome, err := s.withLock(ctx, txn.ID, workerID, func(ctx context.Context, current *models.Transaction) (Outcome, error) {
		if !current.State.IsUnresolved() {
			return OutcomeSkipped, nil
		}
		if payload.ExternalReference != "" && current.ExternalReference == nil {
			set, err := s.txRepo.SetExternalReference(ctx, current.ID, payload.ExternalReference, s.clock())
			if err != nil {
				return OutcomeFailed, apperrors.DatabaseError(err)
			}
			if !set {
				if current, err = s.lock.load(ctx, current.ID); err != nil {
					return OutcomeFailed, err
				}
			} else {
				ext := payload.ExternalReference
				current.ExternalReference = &ext
			}
		}
		if payload.ExternalReference != "" && current.ExternalReference != nil && *current.ExternalReference != payload.ExternalReference {
			logger.CtxWarn(ctx, "settlement webhook external reference mismatch, not confirming",
				"transaction_id", current.ID,
				"expected", *current.ExternalReference,
				"got", payload.ExternalReference,
			)
			return OutcomePending, nil
		}
		ext := payload.ExternalReference
		if ext == "" && current.ExternalReference != nil {
			ext = *current.ExternalReference
		}
		return s.apply(ctx, current, evidence{
			method:            models.VerificationWebhook,
			confirmed:         payload.Confirmed,
			status:            payload.Status,
			externalReference: ext,
			amount:            payload.Amount,
			currency:          payload.Currency,
			paidAt:            payload.PaidAt,
		}, workerID)
	})
	if err != nil && !apperrors.IsNonFatal(err) {
		return nil, err
	}
	return s.afterLockedCall(ctx, txn.ID, outcome, err)
}

func (s *reconciliationService) resolveWebhookTransaction(ctx context.Context, payload *settlement.WebhookPayload) (*models.Transaction, error) {
	if payload.TransactionReference != "" {
		txn, err := s.txRepo.FindByReference(ctx, payload.TransactionReference)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apperrors.DatabaseError(err)
		}
	}
	if payload.ExternalReference != "" {
		txn, err := s.txRepo.FindByExternalReference(ctx, payload.ExternalReference)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apperrors.DatabaseError(err)
		}
	}

	ref := payload.TransactionReference
	if ref == "" {
		ref = payload.ExternalReference
	}
	return nil, apperrors.NotFound("transaction", ref)
}

// amountsEqual compares decimal strings by value; unparsable input never matches.
func amountsEqual(a, b string) bool {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return false
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return false
	}
	return da.Equal(db)
}
