package events

import (
	"context"
	"sync"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
)

const TypeStateChanged = "transaction.state_changed"

// StateChanged is published after every successful state transition.
type StateChanged struct {
	Type          string                  `json:"type"`
	TransactionID string                  `json:"transactionId"`
	Reference     string                  `json:"reference"`
	From          models.TransactionState `json:"from"`
	To            models.TransactionState `json:"to"`
	Reason        string                  `json:"reason"`
	At            time.Time               `json:"at"`
}

// Publisher delivers lifecycle events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, event StateChanged) error
}

// LogPublisher only writes events to the structured log.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event StateChanged) error {
	logger.CtxInfo(ctx, "lifecycle event",
		"type", event.Type,
		"transaction_id", event.TransactionID,
		"reference", event.Reference,
		"from", event.From,
		"to", event.To,
		"reason", event.Reason,
	)
	return nil
}

// MemoryPublisher keeps events in memory; used by tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []StateChanged
	Err    error
}

func (p *MemoryPublisher) Publish(ctx context.Context, event StateChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Events() []StateChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StateChanged, len(p.events))
	copy(out, p.events)
	return out
}
