package checkout

import (
	"context"
	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Cart struct {
	UserID   string          `json:"user_id"`
	Items    []CartItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
}

type Carts interface {
	GetCart(ctx context.Context, userID string) (*Cart, error)
	Clear(ctx context.Context, userID string) error
}

type CouponResult struct {
	Code     string
	Discount decimal.Decimal
}

// Coupons validates a code against an order amount. Validate must not
// consume the coupon; Redeem does, after the order commits.
type Coupons interface {
	Validate(ctx context.Context, code string, amount decimal.Decimal) (*CouponResult, error)
	Redeem(ctx context.Context, code, userID, orderID string) error
}

// PriceQuote is the per-line result. Discount covers the whole line, not one
// unit.
type PriceQuote struct {
	FinalPrice decimal.Decimal
	Discount   decimal.Decimal
}

type Pricing interface {
	CalculatePrice(ctx context.Context, productID string, qty int, basePrice decimal.Decimal) (PriceQuote, error)
}

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a *Address) empty() bool {
	return a == nil || (a.Line1 == "" && a.City == "" && a.PostalCode == "")
}

type Addresses interface {
	Create(ctx context.Context, userID string, a Address) (string, error)
}
