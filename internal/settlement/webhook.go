package settlement

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paylink_backend/pkg/apperrors"

	"github.com/spf13/cast"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)).
const SignatureHeader = "X-Signature"

// WebhookPayload is an inbound settlement notification.
type WebhookPayload struct {
	Event                string     `json:"event"`
	ExternalReference    string     `json:"externalReference"`
	TransactionReference string     `json:"transactionReference"`
	Status               string     `json:"status"`
	Confirmed            bool       `json:"confirmed"`
	Amount               string     `json:"amount"`
	Currency             string     `json:"currency"`
	PaidAt               *time.Time `json:"paidAt,omitempty"`
}

// Sign returns the signature a provider would send for body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

// VerifySignature compares in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, body), got)
}

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// ParseWebhook verifies the signature and decodes the payload. Providers are
// loose about types, so amount and confirmed may arrive as string or number.
func ParseWebhook(body []byte, signature, secret string) (*WebhookPayload, error) {
	if !VerifySignature(secret, body, signature) {
		return nil, apperrors.ErrInvalidSignature
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, apperrors.ValidationError(map[string]string{"body": "malformed JSON"})
	}

	confirmed, err := cast.ToBoolE(valueOr(fields["confirmed"], false))
	if err != nil {
		return nil, apperrors.ValidationError(map[string]string{"confirmed": "must be a boolean"})
	}

	payload := &WebhookPayload{
		Event:                cast.ToString(fields["event"]),
		ExternalReference:    cast.ToString(fields["externalReference"]),
		TransactionReference: cast.ToString(fields["transactionReference"]),
		Status:               cast.ToString(fields["status"]),
		Confirmed:            confirmed,
		Amount:               cast.ToString(fields["amount"]),
		Currency:             strings.ToUpper(cast.ToString(fields["currency"])),
	}

	if raw, ok := fields["paidAt"]; ok && raw != nil {
		paidAt, err := cast.ToTimeE(raw)
		if err != nil {
			return nil, apperrors.ValidationError(map[string]string{"paidAt": fmt.Sprintf("unparseable time: %v", raw)})
		}
		utc := paidAt.UTC()
		payload.PaidAt = &utc
	}

	if payload.TransactionReference == "" && payload.ExternalReference == "" {
		return nil, apperrors.ValidationError(map[string]string{
			"transactionReference": "either transactionReference or externalReference is required",
		})
	}

	return payload, nil
}

func valueOr(v interface{}, def interface{}) interface{} {
	if v == nil {
		return def
	}
	return v
}
