package auth

import "errors"

// Roles
const (
	RoleMerchant = "merchant"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Permissions список разрешений
var Permissions = map[string][]string{
	RoleAdmin: {
		"links:write",
		"transactions:write",
		"transactions:verify",
		"payouts:trigger",
		"payouts:retry",
	},
	RoleOperator: {
		"transactions:verify",
		"transactions:record",
		"payouts:trigger",
		"payouts:retry",
	},
	RoleMerchant: {
		"links:write",
		"transactions:write",
		"payouts:trigger",
	},
}

// HasPermission проверяет есть ли у роли указанное разрешение
func HasPermission(role, permission string) bool {
	for _, p := range Permissions[role] {
		if p == permission {
			return true
		}
	}
	// admin inherits every operator permission
	if role == RoleAdmin {
		return HasPermission(RoleOperator, permission)
	}
	return false
}

func ValidateRole(role string) error {
	switch role {
	case RoleMerchant, RoleOperator, RoleAdmin:
		return nil
	default:
		return errors.New("invalid role")
	}
}
