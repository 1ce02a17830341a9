package checkout

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/shopspring/decimal"
)

// Summary is a priced preview of the cart. Producing it has no side effects.
type Summary struct {
	Items      []orders.LineItem `json:"items"`
	CouponCode string            `json:"coupon_code,omitempty"`
	Currency   string            `json:"currency"`
	orders.Totals
}

func (c *Coordinator) Summary(ctx context.Context, userID, couponCode string) (*Summary, error) {
	req := Request{UserID: userID, CouponCode: couponCode}
	req.normalize()
	if req.UserID == "" {
		return nil, apperr.Invalid(apperr.CodeMissingUser, "user is required")
	}
	cart, err := c.cart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return c.price(ctx, cart, req.CouponCode)
}

func (c *Coordinator) cart(ctx context.Context, userID string) (*Cart, error) {
	cart, err := c.Carts.GetCart(ctx, userID)
	if err != nil {
		return nil, classify(err, "could not load cart")
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, apperr.Invalid(apperr.CodeEmptyCart, "cart is empty")
	}
	for _, it := range cart.Items {
		if it.Qty <= 0 {
			return nil, apperr.Invalid(apperr.CodeInvalidQuantity, "cart line "+it.SKU+" has no quantity")
		}
	}
	return cart, nil
}

// price applies the coupon to the cart subtotal, then the per-line pricing
// rule to every line, and derives the order totals.
func (c *Coordinator) price(ctx context.Context, cart *Cart, couponCode string) (*Summary, error) {
	subtotal := decimal.Zero
	for _, it := range cart.Items {
		subtotal = subtotal.Add(orders.LineTotal(it.UnitPrice, it.Qty))
	}

	coupon := decimal.Zero
	if couponCode != "" {
		if c.Coupons == nil {
			return nil, apperr.Invalid(apperr.CodeInvalidCoupon, "coupons are not accepted")
		}
		res, err := c.Coupons.Validate(ctx, couponCode, subtotal)
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.KindInvalid, apperr.CodeInvalidCoupon, err, "coupon "+couponCode+" is not valid")
		}
		coupon = res.Discount
	}

	items := make([]orders.LineItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		line := orders.LineItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			SKU:       it.SKU,
			Name:      it.Name,
			Qty:       it.Qty,
			UnitPrice: orders.Round(it.UnitPrice),
			Total:     orders.LineTotal(it.UnitPrice, it.Qty),
		}
		if c.Pricing != nil {
			q, err := c.Pricing.CalculatePrice(ctx, it.ProductID, it.Qty, it.UnitPrice)
			if err != nil {
				return nil, classify(err, "could not price "+it.SKU)
			}
			if q.Discount.IsPositive() {
				line.Discount = orders.Round(decimal.Min(q.Discount, line.Total))
			}
		}
		items = append(items, line)
	}

	return &Summary{
		Items:      items,
		CouponCode: couponCode,
		Currency:   c.Currency,
		Totals:     orders.ComputeTotals(items, coupon, cart.Tax),
	}, nil
}

// classify keeps classified errors and files anything else as internal.
func classify(err error, msg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, err, msg)
}
