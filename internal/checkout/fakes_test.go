package checkout_test

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/shopspring/decimal"
	"sync"
)

type fakeCarts struct {
	mu      sync.Mutex
	carts   map[string]*checkout.Cart
	cleared []string
}

func newCarts() *fakeCarts { return &fakeCarts{carts: map[string]*checkout.Cart{}} }

// put stores a cart with tax at taxRate of the subtotal.
func (f *fakeCarts) put(userID string, taxRate string, items ...checkout.CartItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	f.carts[userID] = &checkout.Cart{
		UserID:   userID,
		Items:    items,
		Subtotal: sub,
		Tax:      sub.Mul(decimal.RequireFromString(taxRate)).Round(2),
	}
}

func (f *fakeCarts) GetCart(ctx context.Context, userID string) (*checkout.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[userID]
	if !ok {
		return &checkout.Cart{UserID: userID}, nil
	}
	cp := *c
	cp.Items = append([]checkout.CartItem(nil), c.Items...)
	return &cp, nil
}

func (f *fakeCarts) Clear(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, userID)
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeCoupons struct {
	mu       sync.Mutex
	redeemed []string
}

// SAVE10: 10% off orders of at least 100.
func (f *fakeCoupons) Validate(ctx context.Context, code string, amount decimal.Decimal) (*checkout.CouponResult, error) {
	if code != "SAVE10" {
		return nil, apperr.Invalid(apperr.CodeInvalidCoupon, "coupon "+code+" does not exist")
	}
	if amount.LessThan(decimal.NewFromInt(100)) {
		return nil, apperr.Invalid(apperr.CodeInvalidCoupon, "order below coupon minimum")
	}
	return &checkout.CouponResult{Code: code, Discount: amount.Mul(decimal.RequireFromString("0.10")).Round(2)}, nil
}

func (f *fakeCoupons) Redeem(ctx context.Context, code, userID, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeemed = append(f.redeemed, code+":"+orderID)
	return nil
}

// bulkPricing takes 5% off a whole line of 3 or more units.
type bulkPricing struct{}

func (bulkPricing) CalculatePrice(ctx context.Context, productID string, qty int, base decimal.Decimal) (checkout.PriceQuote, error) {
	line := base.Mul(decimal.NewFromInt(int64(qty)))
	if qty < 3 {
		return checkout.PriceQuote{FinalPrice: line}, nil
	}
	disc := line.Mul(decimal.RequireFromString("0.05"))
	return checkout.PriceQuote{FinalPrice: line.Sub(disc), Discount: disc}, nil
}

type fakeAddresses struct {
	mu sync.Mutex
	n  int
}

func (f *fakeAddresses) Create(ctx context.Context, userID string, a checkout.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("addr-%d", f.n), nil
}
