package orders

import "github.com/shopspring/decimal"

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	CouponDiscount decimal.Decimal `json:"coupon_discount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
}

// Round is the single rounding rule for money: 2 places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// LineTotal is unit price times quantity; line discounts are accounted at
// the order level so that the item totals add up to the subtotal.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}

// ComputeTotal returns subtotal - discount - coupon + tax, rounded and
// clamped at zero.
func ComputeTotal(subtotal, discount, coupon, tax decimal.Decimal) decimal.Decimal {
	t := Round(subtotal.Sub(discount).Sub(coupon).Add(tax))
	if t.IsNegative() {
		return decimal.Zero
	}
	return t
}

// ComputeTotals derives every order-level figure from priced line items.
func ComputeTotals(items []LineItem, coupon, tax decimal.Decimal) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(it.Total)
		t.Discount = t.Discount.Add(it.Discount)
	}
	t.Subtotal = Round(t.Subtotal)
	t.Discount = Round(t.Discount)
	t.CouponDiscount = Round(coupon)
	t.Tax = Round(tax)
	t.Total = ComputeTotal(t.Subtotal, t.Discount, t.CouponDiscount, t.Tax)
	return t
}
