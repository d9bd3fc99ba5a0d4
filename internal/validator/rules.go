package validator

import (
	"log"

	"paylink_backend/internal/models"

	"github.com/go-playground/validator/v10"
)

func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// startup error, the rule set is static
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	mustRegister("is-amount", func(fl validator.FieldLevel) bool {
		_, err := models.ParseAmount(fl.Field().String())
		return err == nil
	})

	mustRegister("is-currency", func(fl validator.FieldLevel) bool {
		return models.IsCurrency(fl.Field().String())
	})

	mustRegister("is-tx-state", func(fl validator.FieldLevel) bool {
		return models.TransactionState(fl.Field().String()).IsValid()
	})
}
