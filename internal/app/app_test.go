package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"paylink_backend/internal/app"
	"paylink_backend/internal/auth"
	"paylink_backend/internal/config"
	"paylink_backend/internal/events"
	"paylink_backend/internal/models"
	"paylink_backend/internal/notify"
	"paylink_backend/internal/settlement"
	"paylink_backend/internal/testutil"
	"paylink_backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec-app-test"

type env struct {
	ts        *testutil.TestServer
	app       *app.Application
	provider  *settlement.MockProvider
	publisher *events.MemoryPublisher
	notifier  *recordingNotifier
	merchant  string
	operator  string
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (r *recordingNotifier) Notify(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingNotifier) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.messages...)
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Env = "test"
	cfg.JWT.Secret = "app-test-secret"
	cfg.Settlement.WebhookSecret = webhookSecret
	cfg.Settlement.CallbackURL = "https://pay.example.com/callback"
	cfg.Reconciliation.WorkerID = "app-test"
	cfg.Reconciliation.Workers = 2
	cfg.Reconciliation.BatchSize = 10
	cfg.Reconciliation.Cooldown = time.Minute
	cfg.Reconciliation.LockTimeout = 5 * time.Minute
	cfg.Reconciliation.InitGrace = 10 * time.Minute
	for _, fn := range mutate {
		fn(cfg)
	}
	auth.Configure(cfg.JWT.Secret)

	e := &env{
		provider:  &settlement.MockProvider{},
		publisher: &events.MemoryPublisher{},
		notifier:  &recordingNotifier{},
	}
	application, err := app.New(context.Background(), cfg, testutil.NewDB(t), app.Dependencies{
		Provider:       e.provider,
		PayoutProvider: e.provider,
		Publisher:      e.publisher,
		Notifier:       e.notifier,
	})
	require.NoError(t, err)

	e.app = application
	e.ts = testutil.NewTestServer(t, application.Router)
	e.merchant = token(t, "merchant-1", auth.RoleMerchant)
	e.operator = token(t, "operator-1", auth.RoleOperator)
	return e
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, body string, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(body), out), body)
}

func (e *env) createLink(t *testing.T) models.PaymentLink {
	t.Helper()
	res, body := e.ts.SendRequest(t, http.MethodPost, "/api/v1/payment-links", e.merchant, map[string]string{
		"title":    "Consulting hour",
		"amount":   "150.75",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, body)

	var link models.PaymentLink
	decode(t, body, &link)
	return link
}

func (e *env) createTransaction(t *testing.T, linkID string) models.Transaction {
	t.Helper()
	res, body := e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions", "", map[string]string{"paymentLinkId": linkID})
	require.Equal(t, http.StatusCreated, res.StatusCode, body)

	var txn models.Transaction
	decode(t, body, &txn)
	return txn
}

func (e *env) webhook(t *testing.T, payload map[string]interface{}, secret string) (*http.Response, string) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.ts.SendRequest(t, http.MethodPost, "/api/v1/webhooks/settlement", "", raw,
		settlement.SignatureHeader, settlement.Sign(secret, raw))
}

func TestLifecycle_WebhookToPayout(t *testing.T) {
	e := newEnv(t)

	link := e.createLink(t)
	assert.Equal(t, "merchant-1", link.MerchantID)

	res, _ := e.ts.SendRequest(t, http.MethodGet, "/api/v1/payment-links/"+link.ID, "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	txn := e.createTransaction(t, link.ID)
	assert.Equal(t, models.StatePending, txn.State)
	assert.Equal(t, "150.75", txn.Amount)

	// 1. initialize with the provider
	res, body := e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/initialize", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	decode(t, body, &txn)
	assert.Equal(t, models.StateInitialized, txn.State)
	require.NotNil(t, txn.ExternalReference)

	// 2. provider confirms by webhook
	res, body = e.webhook(t, map[string]interface{}{
		"transactionReference": txn.Reference,
		"confirmed":            true,
		"amount":               150.75,
		"currency":             "USD",
	}, webhookSecret)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.JSONEq(t, `{"status":"ok","transactionId":"`+txn.ID+`","state":"PAID"}`, body)

	// 3. merchant pays out
	res, body = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/payout", e.merchant,
		map[string]string{"idempotencyKey": "payout-" + txn.ID})
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	var payout models.Payout
	decode(t, body, &payout)
	assert.Equal(t, models.PayoutSuccess, payout.Status)

	res, body = e.ts.SendRequest(t, http.MethodGet, "/api/v1/transactions/"+txn.ID, "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	decode(t, body, &txn)
	assert.Equal(t, models.StateCompleted, txn.State)

	// 4. history
	res, body = e.ts.SendRequest(t, http.MethodGet, "/api/v1/transactions/"+txn.ID+"/history", e.operator, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	var history struct {
		History []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"history"`
	}
	decode(t, body, &history)
	require.Len(t, history.History, 3)
	assert.Equal(t, "INITIALIZED", history.History[0].To)
	assert.Equal(t, "PAID", history.History[1].To)
	assert.Equal(t, "COMPLETED", history.History[2].To)

	res, body = e.ts.SendRequest(t, http.MethodGet, "/api/v1/transactions/"+txn.ID+"/history?to=PAID", e.operator, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	decode(t, body, &history)
	require.Len(t, history.History, 1)
	assert.Equal(t, "INITIALIZED", history.History[0].From)

	assert.Len(t, e.publisher.Events(), 3)
}

func TestLifecycle_OperatorRecordsPayment(t *testing.T) {
	e := newEnv(t)
	txn := e.createTransaction(t, e.createLink(t).ID)

	record := map[string]string{
		"amount":      "150.75",
		"currency":    "USD",
		"senderName":  "Ada Lovelace",
		"senderPhone": "+15550100",
		"paidAt":      "2026-03-01T12:00:00Z",
	}
	path := "/api/v1/transactions/" + txn.ID + "/record"

	res, _ := e.ts.SendRequest(t, http.MethodPost, path, "", record)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = e.ts.SendRequest(t, http.MethodPost, path, e.merchant, record)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body := e.ts.SendRequest(t, http.MethodPost, path, e.operator, record)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	decode(t, body, &txn)
	assert.Equal(t, models.StateCompleted, txn.State)
	require.NotNil(t, txn.SenderName)
	assert.Equal(t, "Ada Lovelace", *txn.SenderName)

	// recording twice conflicts
	res, body = e.ts.SendRequest(t, http.MethodPost, path, e.operator, record)
	assert.Equal(t, http.StatusConflict, res.StatusCode, body)

	// manual verify of a resolved transaction is a no-op
	res, body = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/verify", e.operator, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, 0, e.provider.StatusCalls())
}

func TestRequestValidation(t *testing.T) {
	e := newEnv(t)

	res, body := e.ts.SendRequest(t, http.MethodPost, "/api/v1/payment-links", e.merchant, map[string]string{
		"title": "Bad", "amount": "1.234567", "currency": "usd",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body, "VALIDATION_FAILED")

	res, _ = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions", "", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = e.ts.SendRequest(t, http.MethodGet, "/api/v1/transactions/00000000-0000-0000-0000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, body, "NOT_FOUND")

	res, _ = e.ts.SendRequest(t, http.MethodGet, "/api/v1/payment-links", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = e.ts.SendRequest(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestWebhook_RejectsBadSignatureAndUnknownReference(t *testing.T) {
	e := newEnv(t)
	txn := e.createTransaction(t, e.createLink(t).ID)

	payload := map[string]interface{}{"transactionReference": txn.Reference, "confirmed": true, "currency": "USD"}

	res, body := e.webhook(t, payload, "not-the-secret")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, body, "INVALID_SIGNATURE")

	res, _ = e.webhook(t, map[string]interface{}{"transactionReference": "TXN-MISSING", "confirmed": true}, webhookSecret)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = e.ts.SendRequest(t, http.MethodGet, "/api/v1/transactions/"+txn.ID, "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPaymentLinkOwnership(t *testing.T) {
	e := newEnv(t)
	link := e.createLink(t)
	other := token(t, "merchant-2", auth.RoleMerchant)
	admin := token(t, "admin-1", auth.RoleAdmin)

	res, _ := e.ts.SendRequest(t, http.MethodPut, "/api/v1/payment-links/"+link.ID+"/disable", other, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body := e.ts.SendRequest(t, http.MethodPut, "/api/v1/payment-links/"+link.ID+"/disable", e.merchant, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	decode(t, body, &link)
	assert.False(t, link.Active)

	// inactive links refuse new transactions
	res, body = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions", "", map[string]string{"paymentLinkId": link.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, body)

	res, body = e.ts.SendRequest(t, http.MethodPut, "/api/v1/payment-links/"+link.ID+"/enable", admin, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	decode(t, body, &link)
	assert.True(t, link.Active)

	res, body = e.ts.SendRequest(t, http.MethodGet, "/api/v1/payment-links", other, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var listed struct {
		PaymentLinks []models.PaymentLink `json:"paymentLinks"`
	}
	decode(t, body, &listed)
	assert.Empty(t, listed.PaymentLinks)
}

func TestWebhook_ArchivesVerifiedBodies(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Archive.Type = "local"
		cfg.Archive.BasePath = dir
	})
	txn := e.createTransaction(t, e.createLink(t).ID)

	// rejected bodies are not archived
	res, _ := e.webhook(t, map[string]interface{}{"transactionReference": txn.Reference}, "wrong")
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body := e.webhook(t, map[string]interface{}{"transactionReference": txn.Reference, "confirmed": false}, webhookSecret)
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	var archived []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			archived = append(archived, path)
		}
		return err
	}))
	require.Len(t, archived, 1)
	raw, err := os.ReadFile(archived[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), txn.Reference)
}

func TestWebhook_BodyPolicy(t *testing.T) {
	e := newEnv(t)

	res, _ := e.ts.SendRequest(t, http.MethodPost, "/api/v1/webhooks/settlement", "", []byte(`<xml/>`),
		"Content-Type", "text/xml")
	assert.Equal(t, http.StatusUnsupportedMediaType, res.StatusCode)

	huge := make([]byte, 1<<20+1024)
	res, _ = e.ts.SendRequest(t, http.MethodPost, "/api/v1/webhooks/settlement", "", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
}

func TestPayoutFailure_NotifiesOperators(t *testing.T) {
	e := newEnv(t)
	txn := e.createTransaction(t, e.createLink(t).ID)

	res, body := e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/initialize", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	res, body = e.webhook(t, map[string]interface{}{
		"transactionReference": txn.Reference, "confirmed": true, "currency": "USD",
	}, webhookSecret)
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	e.provider.PayoutFunc = func(ctx context.Context, req settlement.PayoutRequest) (*settlement.PayoutResult, error) {
		return nil, apperrors.ProviderError(errors.New("bank offline"), true)
	}

	res, body = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/payout", e.merchant,
		map[string]string{"idempotencyKey": "k-1"})
	assert.Equal(t, http.StatusBadGateway, res.StatusCode, body)

	messages := e.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Subject, txn.Reference)

	// operator retries, merchant re-triggers with the same key
	e.provider.PayoutFunc = nil
	res, body = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/payout/retry", e.operator,
		map[string]string{"reason": "bank back online"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	res, body = e.ts.SendRequest(t, http.MethodPost, "/api/v1/transactions/"+txn.ID+"/payout", e.merchant,
		map[string]string{"idempotencyKey": "k-1"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	var payout models.Payout
	decode(t, body, &payout)
	assert.Equal(t, 2, payout.Attempts)
	assert.Len(t, e.notifier.Messages(), 1)
}

func TestStream_EnabledRegistersRoute(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.Stream.Enabled = true })
	require.NotNil(t, e.app.Hub)

	// a plain GET without the upgrade handshake is refused by the upgrader
	res, _ := e.ts.SendRequest(t, http.MethodGet, "/api/v1/stream/transactions", e.operator, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	disabled := newEnv(t)
	assert.Nil(t, disabled.app.Hub)
	res, _ = disabled.ts.SendRequest(t, http.MethodGet, "/api/v1/stream/transactions", disabled.operator, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
