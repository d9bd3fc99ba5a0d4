package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateManager_AllPairs(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	ctx := context.Background()

	for _, from := range models.AllStates {
		for _, to := range models.AllStates {
			txn := h.txn(t, link, from, nil)

			updated, err := h.stateManager.Transition(ctx, txn.ID, to, "test", nil)

			if models.CanTransition(from, to) {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, updated.State)
				assert.Equal(t, to, h.reload(t, txn.ID).State)
				assert.Equal(t, 1, h.transitions(t, txn.ID), "%s -> %s writes one entry", from, to)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "%s -> %s", from, to)
				assert.Equal(t, from, h.reload(t, txn.ID).State)
				assert.Equal(t, 0, h.transitions(t, txn.ID), "%s -> %s writes nothing", from, to)
			}
		}
	}
}

func TestStateManager_AuditEntryAndEvent(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	_, err := h.stateManager.Transition(context.Background(), txn.ID, models.StatePaid, "fiat verified", map[string]interface{}{"method": "POLLING"})
	require.NoError(t, err)

	entries := h.auditEntries(t, models.EntityTransaction, txn.ID)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"from":"INITIALIZED","to":"PAID"}`, string(entries[0].Changes))
	assert.JSONEq(t, `{"method":"POLLING","reason":"fiat verified"}`, string(entries[0].Metadata))
	assert.True(t, entries[0].Timestamp.Equal(t0))

	published := h.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, txn.ID, published[0].TransactionID)
	assert.Equal(t, models.StateInitialized, published[0].From)
	assert.Equal(t, models.StatePaid, published[0].To)
}

func TestStateManager_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.stateManager.Transition(context.Background(), "missing", models.StatePaid, "", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStateManager_ConcurrentTransitionsOneWinner(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.stateManager.Transition(context.Background(), txn.ID, models.StatePaid, "race", nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperrors.ErrConcurrentModification), errors.Is(err, apperrors.ErrInvalidTransition):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, h.transitions(t, txn.ID))
	assert.Equal(t, models.StatePaid, h.reload(t, txn.ID).State)
}

func TestStateManager_AuditFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	h.auditRepo.failing.Store(true)
	updated, err := h.stateManager.Transition(context.Background(), txn.ID, models.StatePaid, "fiat verified", nil)
	h.auditRepo.failing.Store(false)

	require.Error(t, err)
	assert.True(t, apperrors.IsNonFatal(err))
	require.NotNil(t, updated)
	assert.Equal(t, models.StatePaid, updated.State)
	assert.Equal(t, models.StatePaid, h.reload(t, txn.ID).State, "state change is kept")
	assert.Equal(t, 0, h.transitions(t, txn.ID))
}

func TestStateManager_PublisherFailureIgnored(t *testing.T) {
	h := newHarness(t)
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StateInitialized, nil)

	h.publisher.Err = errors.New("broker down")
	_, err := h.stateManager.Transition(context.Background(), txn.ID, models.StatePaid, "fiat verified", nil)

	assert.NoError(t, err)
	assert.Equal(t, 1, h.transitions(t, txn.ID))
}

func TestStateManager_LimitedRetryPolicy(t *testing.T) {
	h := newHarness(t, withRetryPolicy(func(repo repositories.AuditRepository) PayoutRetryPolicy {
		return LimitedRetryPolicy{Max: 1, AuditRepo: repo}
	}))
	ctx := context.Background()
	link := h.link(t, "10.00", "USD")
	txn := h.txn(t, link, models.StatePayoutFailed, nil)

	// 1. first retry allowed
	_, err := h.stateManager.Transition(ctx, txn.ID, models.StatePaid, "retry 1", nil)
	require.NoError(t, err)

	// 2. payout fails again
	_, err = h.stateManager.Transition(ctx, txn.ID, models.StatePayoutFailed, "payout failed", nil)
	require.NoError(t, err)

	// 3. second retry refused
	_, err = h.stateManager.Transition(ctx, txn.ID, models.StatePaid, "retry 2", nil)
	assert.ErrorIs(t, err, apperrors.ErrRetryNotAllowed)
	assert.Equal(t, models.StatePayoutFailed, h.reload(t, txn.ID).State)
}
