// Package collab holds the Postgres-backed collaborators checkout depends
// on: carts, coupons, pricing rules and addresses.
package collab

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Carts reads cart_items. Tax is TaxRate of the subtotal.
type Carts struct {
	DB      postgres.DBTX
	TaxRate decimal.Decimal
}

var _ checkout.Carts = (*Carts)(nil)

func NewCarts(db postgres.DBTX, taxRate decimal.Decimal) *Carts {
	return &Carts{DB: db, TaxRate: taxRate}
}

func (c *Carts) GetCart(ctx context.Context, userID string) (*checkout.Cart, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT product_id, variant_id, sku, name, qty, unit_price
		FROM cart_items WHERE user_id = $1 ORDER BY sku`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select cart items")
	}
	defer rows.Close()

	var items []checkout.CartItem
	for rows.Next() {
		var it checkout.CartItem
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.SKU, &it.Name, &it.Qty, &it.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return BuildCart(userID, items, c.TaxRate), nil
}

func (c *Carts) Clear(ctx context.Context, userID string) error {
	_, err := c.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return errors.Wrap(err, "clear cart")
}

// BuildCart totals items and applies taxRate to the subtotal.
func BuildCart(userID string, items []checkout.CartItem, taxRate decimal.Decimal) *checkout.Cart {
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(orders.LineTotal(it.UnitPrice, it.Qty))
	}
	return &checkout.Cart{
		UserID:   userID,
		Items:    items,
		Subtotal: sub,
		Tax:      orders.Round(sub.Mul(taxRate)),
	}
}
