package collab

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Pricing applies the best active quantity-break rule for a product.
type Pricing struct{ DB postgres.DBTX }

var _ checkout.Pricing = (*Pricing)(nil)

func NewPricing(db postgres.DBTX) *Pricing { return &Pricing{DB: db} }

func (p *Pricing) CalculatePrice(ctx context.Context, productID string, qty int, basePrice decimal.Decimal) (checkout.PriceQuote, error) {
	var pct decimal.Decimal
	err := p.DB.QueryRow(ctx, `
		SELECT percent_off FROM pricing_rules
		WHERE product_id = $1 AND active AND min_qty <= $2
		ORDER BY percent_off DESC LIMIT 1`, productID, qty).Scan(&pct)
	if errors.Is(err, pgx.ErrNoRows) {
		pct = decimal.Zero
	} else if err != nil {
		return checkout.PriceQuote{}, errors.Wrap(err, "select pricing rule")
	}
	return Quote(basePrice, qty, pct), nil
}

// Quote takes percentOff off the whole line.
func Quote(unitPrice decimal.Decimal, qty int, percentOff decimal.Decimal) checkout.PriceQuote {
	line := orders.LineTotal(unitPrice, qty)
	if !percentOff.IsPositive() {
		return checkout.PriceQuote{FinalPrice: line}
	}
	d := orders.Round(decimal.Min(line.Mul(percentOff).Div(decimal.NewFromInt(100)), line))
	return checkout.PriceQuote{FinalPrice: line.Sub(d), Discount: d}
}
