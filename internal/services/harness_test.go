package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"paylink_backend/internal/events"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/settlement"
	"paylink_backend/internal/testutil"

	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// flakyAuditRepo fails Create while failing is set.
type flakyAuditRepo struct {
	repositories.AuditRepository
	failing atomic.Bool
}

func (r *flakyAuditRepo) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if r.failing.Load() {
		return errors.New("audit store unavailable")
	}
	return r.AuditRepository.Create(ctx, entry)
}

type harness struct {
	db        *gorm.DB
	clock     *testutil.Clock
	provider  *settlement.MockProvider
	publisher *events.MemoryPublisher
	auditRepo *flakyAuditRepo

	txRepo     repositories.TransactionRepository
	linkRepo   repositories.PaymentLinkRepository
	payoutRepo repositories.PayoutRepository
	verifyRepo repositories.VerificationRepository

	audit        AuditService
	interceptor  AuditInterceptor
	stateManager StateManager
	txService    TransactionService
	reconciler   ReconciliationService
	payouts      PayoutService
	links        PaymentLinkService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	retryPolicy func(repositories.AuditRepository) PayoutRetryPolicy
	reconcile   ReconciliationOptions
}

func withRetryPolicy(fn func(repositories.AuditRepository) PayoutRetryPolicy) harnessOption {
	return func(c *harnessConfig) { c.retryPolicy = fn }
}

func withReconcileOptions(opts ReconciliationOptions) harnessOption {
	return func(c *harnessConfig) { c.reconcile = opts }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		reconcile: ReconciliationOptions{
			WorkerID:    "test-worker",
			Workers:     4,
			BatchSize:   100,
			Cooldown:    2 * time.Minute,
			LockTimeout: 5 * time.Minute,
			InitGrace:   10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		db:        testutil.NewDB(t),
		clock:     testutil.NewClock(t0),
		provider:  &settlement.MockProvider{},
		publisher: &events.MemoryPublisher{},
	}
	h.auditRepo = &flakyAuditRepo{AuditRepository: repositories.NewAuditRepository(h.db)}
	h.txRepo = repositories.NewTransactionRepository(h.db)
	h.linkRepo = repositories.NewPaymentLinkRepository(h.db)
	h.payoutRepo = repositories.NewPayoutRepository(h.db)
	h.verifyRepo = repositories.NewVerificationRepository(h.db)

	var policy PayoutRetryPolicy
	if cfg.retryPolicy != nil {
		policy = cfg.retryPolicy(h.auditRepo)
	}

	h.audit = NewAuditService(h.auditRepo, h.clock.Now)
	h.interceptor = NewAuditInterceptor(h.audit)
	h.stateManager = NewStateManager(h.txRepo, h.audit, h.publisher, policy, h.clock.Now)
	h.txService = NewTransactionService(TransactionServiceDeps{
		TxRepo:       h.txRepo,
		LinkRepo:     h.linkRepo,
		VerifyRepo:   h.verifyRepo,
		StateManager: h.stateManager,
		Audit:        h.audit,
		Interceptor:  h.interceptor,
		Provider:     h.provider,
		CallbackURL:  "https://pay.example.com/callback",
		Clock:        h.clock.Now,
	})
	h.reconciler = NewReconciliationService(h.txRepo, h.verifyRepo, h.txService, h.stateManager, h.audit,
		h.interceptor, h.provider, cfg.reconcile, h.clock.Now)
	h.payouts = NewPayoutService(h.txRepo, h.payoutRepo, h.stateManager, h.audit, h.interceptor, h.provider, h.clock.Now)
	h.links = NewPaymentLinkService(h.linkRepo, h.interceptor, h.clock.Now)
	return h
}

func (h *harness) link(t *testing.T, amount, currency string) *models.PaymentLink {
	t.Helper()
	return testutil.CreatePaymentLink(t, h.db, "merchant-1", amount, currency)
}

// txn stores a transaction created at the current harness time.
func (h *harness) txn(t *testing.T, link *models.PaymentLink, state models.TransactionState, mutate func(*models.Transaction)) *models.Transaction {
	t.Helper()
	return testutil.CreateTransaction(t, h.db, link, state, h.clock.Now(), mutate)
}

func (h *harness) reload(t *testing.T, id string) *models.Transaction {
	t.Helper()
	return testutil.Reload(t, h.db, id)
}

func (h *harness) auditEntries(t *testing.T, entityType models.EntityType, id string) []models.AuditLogEntry {
	t.Helper()
	return testutil.AuditEntries(t, h.db, entityType, id)
}

func (h *harness) transitions(t *testing.T, id string) int {
	t.Helper()
	return testutil.CountActions(h.auditEntries(t, models.EntityTransaction, id), models.ActionStateTransition)
}

func confirmedStatus(amount, currency string) func(ctx context.Context, ref string) (*settlement.StatusResult, error) {
	return func(ctx context.Context, ref string) (*settlement.StatusResult, error) {
		paidAt := t0
		return &settlement.StatusResult{
			Status:    "COMPLETED",
			Confirmed: true,
			Amount:    amount,
			Currency:  currency,
			PaidAt:    &paidAt,
		}, nil
	}
}
