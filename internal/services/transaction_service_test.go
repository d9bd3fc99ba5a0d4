package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/services/dto"
	"paylink_backend/internal/settlement"
	"paylink_backend/internal/testutil"
	"paylink_backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordRequest(amount, currency string) *dto.RecordTransactionRequest {
	return &dto.RecordTransactionRequest{
		Amount:      amount,
		Currency:    currency,
		SenderName:  "Jane Payer",
		SenderPhone: "+15550100",
		PaidAt:      t0.Add(-time.Hour),
	}
}

func TestNewReference_Format(t *testing.T) {
	ref := NewReference(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^TXN-20260301-[0-9A-F]{12}$`), ref)
	assert.NotEqual(t, ref, NewReference(t0))
}

func TestTransactionService_Create(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "150.75", "USD")

	txn, err := h.txService.Create(context.Background(), &dto.CreateTransactionRequest{
		PaymentLinkID: link.ID,
		PayerInfo:     map[string]interface{}{"email": "payer@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatePending, txn.State)
	assert.Equal(t, "150.75", txn.Amount)
	assert.Equal(t, "USD", txn.Currency)
	assert.True(t, txn.ExpiresAt.Equal(t0.Add(24*time.Hour)))
	assert.Regexp(t, `^TXN-20260301-[0-9A-F]{12}$`, txn.Reference)

	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
}

func TestTransactionService_CreateRejectsInactiveLink(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	testutil.DeactivateLink(t, h.db, link)

	_, err := h.txService.Create(context.Background(), &dto.CreateTransactionRequest{PaymentLinkID: link.ID})
	assert.ErrorIs(t, err, apperrors.ErrLinkInactive)

	_, err = h.txService.Create(context.Background(), &dto.CreateTransactionRequest{PaymentLinkID: "00000000-0000-0000-0000-000000000000"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransactionService_DuplicateReference(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")

	svc := NewTransactionService(TransactionServiceDeps{
		TxRepo:       h.txRepo,
		LinkRepo:     h.linkRepo,
		VerifyRepo:   h.verifyRepo,
		StateManager: h.stateManager,
		Audit:        h.audit,
		Interceptor:  h.interceptor,
		Provider:     h.provider,
		NewReference: func(time.Time) string { return "TXN-20260301-AAAAAAAAAAAA" },
		Clock:        h.clock.Now,
	})

	_, err := svc.Create(context.Background(), &dto.CreateTransactionRequest{PaymentLinkID: link.ID})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), &dto.CreateTransactionRequest{PaymentLinkID: link.ID})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateReference)
}

func TestTransactionService_InitializeSuccess(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePending, nil)

	var got settlement.InitRequest
	h.provider.InitializeFunc = func(ctx context.Context, req settlement.InitRequest) (*settlement.InitResult, error) {
		got = req
		return &settlement.InitResult{Success: true, ExternalReference: "ext-42", Status: "CREATED", Raw: []byte(`{"id":"ext-42"}`)}, nil
	}

	updated, err := h.txService.InitializePayment(context.Background(), txn.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StateInitialized, updated.State)
	assert.Equal(t, txn.Reference, got.Reference)
	assert.Equal(t, "https://pay.example.com/callback", got.CallbackURL)

	stored := h.reload(t, txn.ID)
	require.NotNil(t, stored.ExternalReference)
	assert.Equal(t, "ext-42", *stored.ExternalReference)

	inits, err := h.verifyRepo.FindInitializations(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, inits, 1)
	assert.Equal(t, models.InitializationSuccess, inits[0].Status)
	assert.JSONEq(t, `{"id":"ext-42"}`, string(inits[0].RawResponse))

	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	assert.Equal(t, 1, testutil.CountActions(entries, models.ActionInitializationAttempt))
	assert.Equal(t, 1, testutil.CountActions(entries, models.ActionStateTransition))
}

func TestTransactionService_InitializeFailureStaysPending(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePending, nil)

	h.provider.InitializeFunc = func(ctx context.Context, req settlement.InitRequest) (*settlement.InitResult, error) {
		return nil, errors.New("connection reset")
	}

	_, err := h.txService.InitializePayment(context.Background(), txn.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProvider)
	assert.True(t, apperrors.IsRetryable(err))

	assert.Equal(t, models.StatePending, h.reload(t, txn.ID).State)

	inits, err := h.verifyRepo.FindInitializations(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, inits, 1)
	assert.Equal(t, models.InitializationFailed, inits[0].Status)
	require.NotNil(t, inits[0].Error)
	assert.Contains(t, *inits[0].Error, "connection reset")

	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	assert.Equal(t, 1, testutil.CountActions(entries, models.ActionInitializationAttempt))
	assert.Equal(t, 0, testutil.CountActions(entries, models.ActionStateTransition))
}

func TestTransactionService_InitializeDeclined(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePending, nil)

	h.provider.InitializeFunc = func(ctx context.Context, req settlement.InitRequest) (*settlement.InitResult, error) {
		return &settlement.InitResult{Success: false, Status: "REJECTED"}, nil
	}

	_, err := h.txService.InitializePayment(context.Background(), txn.ID)
	assert.ErrorIs(t, err, apperrors.ErrProvider)
	assert.Equal(t, models.StatePending, h.reload(t, txn.ID).State)
}

func TestTransactionService_ConcurrentInitializeKeepsFirstReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePending, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.provider.InitializeFunc = func(ctx context.Context, req settlement.InitRequest) (*settlement.InitResult, error) {
		once.Do(func() { close(entered) })
		<-release
		return &settlement.InitResult{Success: true, ExternalReference: "ext-A", Status: "CREATED"}, nil
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.txService.InitializePayment(ctx, txn.ID)
		firstErr <- err
	}()
	<-entered

	_, err := h.txService.InitializePayment(ctx, txn.ID)
	assert.ErrorIs(t, err, apperrors.ErrLockNotAcquired)

	close(release)
	require.NoError(t, <-firstErr)
	assert.Equal(t, 1, h.provider.InitCalls())

	stored := h.reload(t, txn.ID)
	assert.Equal(t, models.StateInitialized, stored.State)
	require.NotNil(t, stored.ExternalReference)
	assert.Equal(t, "ext-A", *stored.ExternalReference)
	assert.False(t, stored.IsLocked())
}

func TestTransactionService_InitializeUsesKnownReference(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePending, func(txn *models.Transaction) {
		ext := "ext-from-webhook"
		txn.ExternalReference = &ext
	})

	updated, err := h.txService.InitializePayment(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInitialized, updated.State)
	assert.Equal(t, 0, h.provider.InitCalls())
	assert.Equal(t, "ext-from-webhook", *h.reload(t, txn.ID).ExternalReference)
}

func TestTransactionService_InitializeRequiresPending(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	_, err := h.txService.InitializePayment(context.Background(), txn.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 0, h.provider.InitCalls())
}

func TestTransactionService_RecordTransaction(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "150.75", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	updated, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("150.75", "USD"))
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, updated.State)
	require.NotNil(t, updated.ActualAmountPaid)
	assert.Equal(t, "150.75", *updated.ActualAmountPaid)
	require.NotNil(t, updated.SenderName)
	assert.Equal(t, "Jane Payer", *updated.SenderName)
	require.NotNil(t, updated.RecordedAt)
	assert.True(t, updated.RecordedAt.Equal(t0))

	history, err := h.txService.GetStateHistory(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "INITIALIZED", history[0].From)
	assert.Equal(t, "PAID", history[0].To)
	assert.Equal(t, "PAID", history[1].From)
	assert.Equal(t, "COMPLETED", history[1].To)
	assert.Equal(t, "payment recorded manually", history[1].Reason)

	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	assert.Equal(t, 1, testutil.CountActions(entries, models.ActionPaymentRecorded))
}

func TestTransactionService_RecordFromPendingChainsThroughInitialized(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePending, nil)

	updated, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("10.00", "USD"))
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, updated.State)

	history, err := h.txService.GetStateHistory(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "INITIALIZED", history[0].To)
	assert.Equal(t, "PAID", history[1].To)
	assert.Equal(t, "COMPLETED", history[2].To)
}

func TestTransactionService_RecordCurrencyMismatch(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "150.75", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	_, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("150.75", "EUR"))
	assert.ErrorIs(t, err, apperrors.ErrCurrencyMismatch)

	stored := h.reload(t, txn.ID)
	assert.Equal(t, models.StateInitialized, stored.State)
	assert.Nil(t, stored.RecordedAt)
	assert.Equal(t, 0, h.transitions(t, txn.ID))
}

func TestTransactionService_RecordTwice(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	_, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("10.00", "USD"))
	require.NoError(t, err)

	_, err = h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("10.00", "USD"))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)
	assert.Equal(t, 2, h.transitions(t, txn.ID), "no extra transitions")
}

func TestTransactionService_RecordOnPaidIsAlreadyProcessed(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePaid, nil)

	_, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("10.00", "USD"))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)
}

func TestTransactionService_RecordValidatesInput(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	for _, req := range []*dto.RecordTransactionRequest{
		recordRequest("0", "USD"),
		recordRequest("10.123456", "USD"),
		recordRequest("abc", "USD"),
		recordRequest("10.00", "usd"),
	} {
		_, err := h.txService.RecordTransaction(context.Background(), txn.ID, req)
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code, "%+v", req)
	}
	assert.Equal(t, models.StateInitialized, h.reload(t, txn.ID).State)
}

func TestTransactionService_RecordSurvivesAuditOutage(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	h.auditRepo.failing.Store(true)
	updated, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("10.00", "USD"))
	h.auditRepo.failing.Store(false)

	require.Error(t, err)
	assert.True(t, apperrors.IsNonFatal(err))
	require.NotNil(t, updated)
	assert.Equal(t, models.StateCompleted, updated.State)
}

func TestTransactionService_RecordRefusedRetryWritesNothing(t *testing.T) {
	h := newHarness(t, withRetryPolicy(func(repo repositories.AuditRepository) PayoutRetryPolicy {
		return LimitedRetryPolicy{Max: 0, AuditRepo: repo}
	}))
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePayoutFailed, nil)

	for i := 0; i < 2; i++ {
		_, err := h.txService.RecordTransaction(context.Background(), txn.ID, recordRequest("10.00", "USD"))
		assert.ErrorIs(t, err, apperrors.ErrRetryNotAllowed, "attempt %d", i+1)
	}

	stored := h.reload(t, txn.ID)
	assert.Equal(t, models.StatePayoutFailed, stored.State)
	assert.Nil(t, stored.RecordedAt)
	assert.Nil(t, stored.ActualAmountPaid)
	assert.False(t, stored.IsLocked())
	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	assert.Equal(t, 0, testutil.CountActions(entries, models.ActionPaymentRecorded))
}

// stallingStateManager refuses transitions into one state.
type stallingStateManager struct {
	StateManager
	refuse models.TransactionState
}

func (m stallingStateManager) Transition(ctx context.Context, transactionID string, to models.TransactionState, reason string, metadata map[string]interface{}) (*models.Transaction, error) {
	if to == m.refuse {
		return nil, apperrors.ErrConcurrentModification
	}
	return m.StateManager.Transition(ctx, transactionID, to, reason, metadata)
}

func TestTransactionService_RecordClearedWhenChainStops(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	stalled := NewTransactionService(TransactionServiceDeps{
		TxRepo:       h.txRepo,
		LinkRepo:     h.linkRepo,
		VerifyRepo:   h.verifyRepo,
		StateManager: stallingStateManager{StateManager: h.stateManager, refuse: models.StatePaid},
		Audit:        h.audit,
		Interceptor:  h.interceptor,
		Provider:     h.provider,
		Clock:        h.clock.Now,
	})

	_, err := stalled.RecordTransaction(ctx, txn.ID, recordRequest("10.00", "USD"))
	assert.ErrorIs(t, err, apperrors.ErrConcurrentModification)

	stored := h.reload(t, txn.ID)
	assert.Equal(t, models.StateInitialized, stored.State)
	assert.Nil(t, stored.RecordedAt)
	assert.False(t, stored.IsLocked())

	// the recording can be repeated
	updated, err := h.txService.RecordTransaction(ctx, txn.ID, recordRequest("10.00", "USD"))
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, updated.State)
	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	assert.Equal(t, 1, testutil.CountActions(entries, models.ActionPaymentRecorded))
}

func TestTransactionService_HistoryNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.txService.GetStateHistory(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
