package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const queryTimeout = 5 * time.Second

// rowQuerier is the part of *pgxpool.Pool the catalog needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGCatalog reads products from the storefront's Postgres products table.
type PGCatalog struct{ db rowQuerier }

func NewPGCatalog(db rowQuerier) *PGCatalog { return &PGCatalog{db: db} }

func (c *PGCatalog) Lookup(ctx context.Context, ref string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		p     Product
		price string
	)
	err := c.db.QueryRow(ctx, `
		SELECT id, name, offer_price::text
		FROM products WHERE id=$1
	`, ref).Scan(&p.ID, &p.Name, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog lookup %s: %w", ref, err)
	}

	p.UnitPrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup %s: bad price %q: %w", ref, price, err)
	}
	return &p, nil
}
