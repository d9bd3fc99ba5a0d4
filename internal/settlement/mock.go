package settlement

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-memory provider for tests and local runs. Unset
// funcs fall back to a successful, unconfirmed provider.
type MockProvider struct {
	InitializeFunc func(ctx context.Context, req InitRequest) (*InitResult, error)
	StatusFunc     func(ctx context.Context, externalReference string) (*StatusResult, error)
	PayoutFunc     func(ctx context.Context, req PayoutRequest) (*PayoutResult, error)

	mu          sync.Mutex
	initCalls   int
	statusCalls int
	payoutCalls int
}

func (m *MockProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	m.mu.Lock()
	m.initCalls++
	m.mu.Unlock()

	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return &InitResult{
		Success:           true,
		ExternalReference: "ext-" + uuid.NewString(),
		Status:            "CREATED",
		Raw:               []byte(`{"status":"CREATED"}`),
	}, nil
}

func (m *MockProvider) GetStatus(ctx context.Context, externalReference string) (*StatusResult, error) {
	m.mu.Lock()
	m.statusCalls++
	m.mu.Unlock()

	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, externalReference)
	}
	return &StatusResult{Status: "PENDING"}, nil
}

func (m *MockProvider) SendPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	m.mu.Lock()
	m.payoutCalls++
	m.mu.Unlock()

	if m.PayoutFunc != nil {
		return m.PayoutFunc(ctx, req)
	}
	return &PayoutResult{ProviderReference: "po-" + req.IdempotencyKey, Status: "SUCCESS"}, nil
}

func (m *MockProvider) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

func (m *MockProvider) StatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

func (m *MockProvider) PayoutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payoutCalls
}
