package notify

import (
	"context"

	"paylink_backend/internal/logger"
)

// Message is a plain operator notification.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the structured log only.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger.CtxWarn(ctx, "operator notification", "subject", msg.Subject, "body", msg.Body)
	return nil
}
