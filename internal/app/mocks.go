package app

import (
	"context"
	"errors"

	"paylink_backend/internal/settlement"
	"paylink_backend/pkg/apperrors"
)

var errPayoutsDisabled = errors.New("payouts are disabled in this deployment")

// DisabledPayoutProvider stands in when payouts.enabled is false. Every
// payout fails non-retryably, so the transaction lands in PAYOUT_FAILED.
type DisabledPayoutProvider struct{}

func (DisabledPayoutProvider) SendPayout(ctx context.Context, req settlement.PayoutRequest) (*settlement.PayoutResult, error) {
	return nil, apperrors.ProviderError(errPayoutsDisabled, false)
}
