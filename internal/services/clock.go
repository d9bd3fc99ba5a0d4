package services

import (
	"fmt"
	"strings"
	"time"

	"paylink_backend/internal/models"
	"paylink_backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Clock returns the current time. Everything the engine stores is UTC.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

// ReferenceGenerator produces the caller-facing transaction reference.
type ReferenceGenerator func(now time.Time) string

// NewReference returns TXN-YYYYMMDD-<12 hex>.
func NewReference(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("TXN-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(id[:12]))
}

// ParseAmount validates an amount field, see models.ParseAmount.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := models.ParseAmount(s)
	if err != nil {
		return decimal.Zero, apperrors.ValidationError(map[string]string{field: err.Error()})
	}
	return d, nil
}

// ValidateCurrency accepts ISO 4217 style upper-case codes.
func ValidateCurrency(field, s string) error {
	if !models.IsCurrency(s) {
		return apperrors.ValidationError(map[string]string{field: "must be a 3-letter upper-case currency code"})
	}
	return nil
}
