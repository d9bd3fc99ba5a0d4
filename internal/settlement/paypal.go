package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paylink_backend/pkg/apperrors"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

// PayPalProvider maps the provider contract onto PayPal orders. An order is
// confirmed once its status is COMPLETED.
type PayPalProvider struct {
	client      *paypal.Client
	callbackURL string
}

func NewPayPalProvider(clientID, clientSecret string, sandbox bool, callbackURL string) (*PayPalProvider, error) {
	base := paypal.APIBaseLive
	if sandbox {
		base = paypal.APIBaseSandBox
	}

	client, err := paypal.NewClient(clientID, clientSecret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}

	return &PayPalProvider{client: client, callbackURL: callbackURL}, nil
}

func (p *PayPalProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperrors.ProviderError(fmt.Errorf("invalid amount %q: %w", req.Amount, err), false)
	}

	units := []paypal.PurchaseUnitRequest{
		{
			ReferenceID: req.Reference,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: strings.ToUpper(req.Currency),
				Value:    amount.StringFixed(2),
			},
		},
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = p.callbackURL
	}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: callback,
		CancelURL: callback,
	}

	order, err := p.client.CreateOrder(ctx, "CAPTURE", units, nil, appCtx)
	if err != nil {
		return nil, classifyPayPalError(err)
	}

	raw, _ := json.Marshal(order)
	return &InitResult{
		Success:           order.ID != "",
		ExternalReference: order.ID,
		Status:            order.Status,
		Raw:               raw,
	}, nil
}

func (p *PayPalProvider) GetStatus(ctx context.Context, externalReference string) (*StatusResult, error) {
	order, err := p.client.GetOrder(ctx, externalReference)
	if err != nil {
		return nil, classifyPayPalError(err)
	}

	result := &StatusResult{
		Status:    order.Status,
		Confirmed: order.Status == "COMPLETED",
	}
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Amount != nil {
		result.Amount = order.PurchaseUnits[0].Amount.Value
		result.Currency = order.PurchaseUnits[0].Amount.Currency
	}
	result.Raw, _ = json.Marshal(order)
	return result, nil
}

func classifyPayPalError(err error) error {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		status := apiErr.Response.StatusCode
		return apperrors.ProviderError(err, status == http.StatusTooManyRequests || status >= 500)
	}
	return apperrors.ProviderError(err, true)
}
