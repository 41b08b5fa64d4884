package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address is the shipping/contact snapshot captured with the order.
type Address struct {
	FullName    string `json:"fullName" dynamodbav:"full_name" validate:"required"`
	PhoneNumber string `json:"phoneNumber" dynamodbav:"phone_number" validate:"required"`
	Email       string `json:"email" dynamodbav:"email" validate:"required,email"`
	Pincode     string `json:"pincode" dynamodbav:"pincode" validate:"required"`
	Area        string `json:"area" dynamodbav:"area" validate:"required"`
	City        string `json:"city" dynamodbav:"city" validate:"required"`
	State       string `json:"state" dynamodbav:"state" validate:"required"`
}

// Item is a priced line. Name and UnitPrice are copied from the catalog when the
// order is placed and never re-resolved.
type Item struct {
	ProductRef string          `json:"product"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the persisted entity.
type Order struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Items     []Item    `json:"items"`
	Amount    int64     `json:"amount"`
	Address   Address   `json:"address"`
	Status    string    `json:"status"`
	Date      time.Time `json:"date"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Draft is an order before the store assigns it an id.
type Draft struct {
	UserID  string
	Items   []Item
	Amount  int64
	Address Address
	Date    time.Time
}

// CreatedEvent is the message handed from intake to the batch processor.
type CreatedEvent struct {
	EventID string    `json:"eventId"`
	UserID  string    `json:"userId"`
	Address Address   `json:"address"`
	Items   []Item    `json:"items"`
	Amount  int64     `json:"amount"`
	Date    time.Time `json:"date"`
}

func (e CreatedEvent) Draft() Draft {
	return Draft{
		UserID:  e.UserID,
		Items:   e.Items,
		Amount:  e.Amount,
		Address: e.Address,
		Date:    e.Date,
	}
}
