package notify

import (
	"context"
	"fmt"
	"strings"

	"paylink_backend/internal/events"
	"paylink_backend/internal/models"
)

// PayoutFailureSubscriber is an events.Publisher that turns PAYOUT_FAILED
// transitions into operator notifications and ignores everything else.
type PayoutFailureSubscriber struct {
	notifier Notifier
}

func NewPayoutFailureSubscriber(notifier Notifier) *PayoutFailureSubscriber {
	return &PayoutFailureSubscriber{notifier: notifier}
}

func (s *PayoutFailureSubscriber) Publish(ctx context.Context, event events.StateChanged) error {
	if event.To != models.StatePayoutFailed {
		return nil
	}
	return s.notifier.Notify(ctx, Message{
		Subject: fmt.Sprintf("Payout failed for %s", event.Reference),
		Body:    payoutFailureBody(event),
	})
}

func payoutFailureBody(event events.StateChanged) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction: %s\n", event.TransactionID)
	fmt.Fprintf(&b, "Reference:   %s\n", event.Reference)
	fmt.Fprintf(&b, "Failed at:   %s\n", event.At.UTC().Format("2006-01-02 15:04:05 MST"))
	if event.Reason != "" {
		fmt.Fprintf(&b, "Reason:      %s\n", event.Reason)
	}
	b.WriteString("\nRetry with POST /api/v1/transactions/" + event.TransactionID + "/payout/retry once the cause is fixed.\n")
	return b.String()
}
