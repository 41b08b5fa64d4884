// Package catalog resolves product references to their current name and price.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Catalog looks up a product by reference. A nil product with a nil error means
// the reference does not exist.
type Catalog interface {
	Lookup(ctx context.Context, ref string) (*Product, error)
}
