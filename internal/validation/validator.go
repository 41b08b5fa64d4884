package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

// New returns a validator with the order_status tag registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	// closed set of statuses; registration only fails on an empty tag
	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		return orders.IsValidStatus(fl.Field().String())
	})
	return v
}
