package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		wantErr error
	}{
		{"150.75", nil},
		{"1", nil},
		{"0.0001", nil},
		{"10.1234", nil},
		{"0", ErrAmountNotPositive},
		{"0.0000", ErrAmountNotPositive},
		{"10.12345", ErrAmountFormat},
		{"-5", ErrAmountFormat},
		{"1e3", ErrAmountFormat},
		{"12.", ErrAmountFormat},
		{"", ErrAmountFormat},
		{" 10", ErrAmountFormat},
	}

	for _, tc := range cases {
		_, err := ParseAmount(tc.in)
		if tc.wantErr == nil {
			assert.NoError(t, err, tc.in)
		} else {
			assert.ErrorIs(t, err, tc.wantErr, tc.in)
		}
	}
}

func TestParseAmount_KeepsPrecision(t *testing.T) {
	d, err := ParseAmount("150.75")
	require.NoError(t, err)
	assert.Equal(t, "150.75", d.StringFixed(2))
}

func TestIsCurrency(t *testing.T) {
	assert.True(t, IsCurrency("USD"))
	assert.False(t, IsCurrency("usd"))
	assert.False(t, IsCurrency("US"))
	assert.False(t, IsCurrency("USDT"))
}

func TestTransaction_LockAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	worker := "w1"

	txn := &Transaction{ExpiresAt: now}
	assert.True(t, txn.IsExpired(now))
	assert.False(t, txn.IsExpired(now.Add(-time.Second)))

	assert.False(t, txn.IsLocked())
	txn.ProcessingBy = &worker
	assert.False(t, txn.IsLocked())
	txn.ProcessingStartedAt = &now
	assert.True(t, txn.IsLocked())
}
