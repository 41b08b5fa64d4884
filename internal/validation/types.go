package validation

import "github.com/imrishuroy/quickcart-orderflow/internal/orders"

// OrderLine is one cart entry as sent by the storefront.
type OrderLine struct {
	Product  string `json:"product" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

// PlaceOrderRequest is the payload for POST /api/order/create
type PlaceOrderRequest struct {
	Address *orders.Address `json:"address" validate:"required"`
	Items   []OrderLine     `json:"items" validate:"required,min=1,dive"`
}

// StatusRequest is the payload for the status email and status update routes.
type StatusRequest struct {
	OrderID   string `json:"orderId" validate:"required"`
	NewStatus string `json:"newStatus" validate:"required,order_status"`
}
