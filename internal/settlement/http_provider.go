package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"paylink_backend/pkg/apperrors"

	"github.com/valyala/fasthttp"
)

// HTTPProvider talks to a generic REST settlement API:
//
//	POST {base}/payments
//	GET  {base}/payments/{externalReference}
//	POST {base}/payouts
type HTTPProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

type initPayload struct {
	Amount      string                 `json:"amount"`
	Currency    string                 `json:"currency"`
	Reference   string                 `json:"reference"`
	CallbackURL string                 `json:"callbackUrl,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type payoutPayload struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Reference      string `json:"reference"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
}

func (p *HTTPProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	body, err := json.Marshal(initPayload{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, apperrors.ProviderError(err, false)
	}

	raw, err := p.do(ctx, fasthttp.MethodPost, "/payments", body, "")
	if err != nil {
		return nil, err
	}

	var result InitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperrors.ProviderError(fmt.Errorf("decode initialize response: %w", err), false)
	}
	result.Raw = raw
	return &result, nil
}

func (p *HTTPProvider) GetStatus(ctx context.Context, externalReference string) (*StatusResult, error) {
	raw, err := p.do(ctx, fasthttp.MethodGet, "/payments/"+url.PathEscape(externalReference), nil, "")
	if err != nil {
		return nil, err
	}

	var result StatusResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperrors.ProviderError(fmt.Errorf("decode status response: %w", err), false)
	}
	result.Raw = raw
	return &result, nil
}

func (p *HTTPProvider) SendPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body, err := json.Marshal(payoutPayload{
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
		Amount:         req.Amount,
		Currency:       req.Currency,
	})
	if err != nil {
		return nil, apperrors.ProviderError(err, false)
	}

	raw, err := p.do(ctx, fasthttp.MethodPost, "/payouts", body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var result PayoutResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperrors.ProviderError(fmt.Errorf("decode payout response: %w", err), false)
	}
	return &result, nil
}

// do sends one request and classifies the failure: transport errors, 429 and
// 5xx are retryable, any other non-2xx is a permanent rejection.
func (p *HTTPProvider) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ProviderError(err, true)
	}

	if err := p.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, apperrors.ProviderError(fmt.Errorf("%s %s: %w", method, path, err), true)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		err := fmt.Errorf("%s %s: status %d: %s", method, path, status, truncate(resp.Body(), 256))
		return nil, apperrors.ProviderError(err, isRetryableStatus(status))
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func isRetryableStatus(status int) bool {
	return status == fasthttp.StatusTooManyRequests || status >= 500
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
