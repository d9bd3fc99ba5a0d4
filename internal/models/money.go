package models

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	ErrAmountFormat      = errors.New("must be a decimal string with at most 4 fractional digits")
	ErrAmountNotPositive = errors.New("must be greater than zero")

	amountPattern   = regexp.MustCompile(`^\d+(\.\d{1,4})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ParseAmount accepts a positive decimal string with at most 4 fractional
// digits. Amounts are stored as the original string.
func ParseAmount(s string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(s) {
		return decimal.Zero, ErrAmountFormat
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrAmountFormat
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrAmountNotPositive
	}
	return d, nil
}

// IsCurrency reports a 3-letter upper-case code.
func IsCurrency(s string) bool {
	return currencyPattern.MatchString(s)
}
