// Package pricing turns cart lines into priced order items and a payable amount.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/quickcart-orderflow/internal/catalog"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

var (
	ErrReferenceNotFound = errors.New("product not found")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// SurchargeRate is the flat platform surcharge applied to the subtotal.
var SurchargeRate = decimal.RequireFromString("0.02")

type CartLine struct {
	ProductRef string `json:"product"`
	Quantity   int    `json:"quantity"`
}

type Quote struct {
	Items     []orders.Item
	Subtotal  decimal.Decimal
	Surcharge int64
	Amount    int64
}

type Resolver struct {
	catalog catalog.Catalog
}

func NewResolver(c catalog.Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve snapshots name and unit price for each line in cart order.
func (r *Resolver) Resolve(ctx context.Context, lines []CartLine) (Quote, error) {
	items := make([]orders.Item, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: %s has quantity %d", ErrInvalidQuantity, l.ProductRef, l.Quantity)
		}
		p, err := r.catalog.Lookup(ctx, l.ProductRef)
		if err != nil {
			return Quote{}, fmt.Errorf("resolve %s: %w", l.ProductRef, err)
		}
		if p == nil {
			return Quote{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, l.ProductRef)
		}
		items = append(items, orders.Item{
			ProductRef: l.ProductRef,
			Name:       p.Name,
			UnitPrice:  p.UnitPrice,
			Quantity:   l.Quantity,
		})
	}

	subtotal := Subtotal(items)
	surcharge := subtotal.Mul(SurchargeRate).Floor().IntPart()
	return Quote{
		Items:     items,
		Subtotal:  subtotal,
		Surcharge: surcharge,
		Amount:    subtotal.Floor().IntPart() + surcharge,
	}, nil
}

func Subtotal(items []orders.Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Amount is floor(subtotal) + floor(subtotal * SurchargeRate).
func Amount(items []orders.Item) int64 {
	subtotal := Subtotal(items)
	return subtotal.Floor().IntPart() + subtotal.Mul(SurchargeRate).Floor().IntPart()
}
