package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	Configure("test-secret")

	token, err := GenerateToken("operator-1", RoleOperator, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.UserID())
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestToken_Rejects(t *testing.T) {
	Configure("test-secret")

	expired, err := GenerateToken("u", RoleMerchant, -time.Minute)
	require.NoError(t, err)

	badRole, err := GenerateToken("u", "superuser", time.Hour)
	require.NoError(t, err)

	noSubject, err := GenerateToken("", RoleMerchant, time.Hour)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	Configure("other-secret")
	foreign, err := GenerateToken("u", RoleMerchant, time.Hour)
	require.NoError(t, err)
	Configure("test-secret")

	for name, token := range map[string]string{
		"expired":      expired,
		"unknown role": badRole,
		"no subject":   noSubject,
		"wrong alg":    hs512,
		"wrong secret": foreign,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestToken_NotConfigured(t *testing.T) {
	Configure("")
	defer Configure("test-secret")

	_, err := GenerateToken("u", RoleMerchant, time.Hour)
	assert.ErrorIs(t, err, ErrTokenNotConfigured)

	_, err = ParseToken("x")
	assert.ErrorIs(t, err, ErrTokenNotConfigured)
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleMerchant, "links:write"))
	assert.False(t, HasPermission(RoleMerchant, "transactions:record"))
	assert.False(t, HasPermission(RoleMerchant, "payouts:retry"))

	assert.True(t, HasPermission(RoleOperator, "transactions:record"))
	assert.False(t, HasPermission(RoleOperator, "links:write"))

	// admin inherits operator permissions
	assert.True(t, HasPermission(RoleAdmin, "transactions:record"))
	assert.True(t, HasPermission(RoleAdmin, "links:write"))

	assert.False(t, HasPermission("guest", "links:write"))
	assert.Error(t, ValidateRole("guest"))
}
