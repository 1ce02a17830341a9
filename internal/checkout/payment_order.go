package checkout

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/shopspring/decimal"
)

// PaymentOrder is handed to the client to collect the payment that the
// checkout will later capture.
type PaymentOrder struct {
	ProviderOrderID string          `json:"provider_order_id"`
	Receipt         string          `json:"receipt"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// CreatePaymentOrder prices the cart and opens a provider order for its
// total. The receipt is the user's idempotency key when given, so the
// provider returns the same order for a repeated request by that user.
func (c *Coordinator) CreatePaymentOrder(ctx context.Context, userID, couponCode, idempotencyKey string) (*PaymentOrder, error) {
	req := Request{UserID: userID, CouponCode: couponCode, IdempotencyKey: idempotencyKey}
	req.normalize()
	if req.UserID == "" {
		return nil, apperr.Invalid(apperr.CodeMissingUser, "user is required")
	}
	cart, err := c.cart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	sum, err := c.price(ctx, cart, req.CouponCode)
	if err != nil {
		return nil, err
	}
	if err := c.precheck(ctx, sum.Items); err != nil {
		return nil, err
	}

	receipt := replayKey(req)
	if receipt == "" {
		receipt = orders.NewNumber(c.now())
	}
	po, err := c.Gateway.CreateOrder(ctx, sum.Total, c.Currency, receipt, gateway.Customer{ID: req.UserID})
	if err != nil {
		return nil, apperr.Gateway(err, "could not open payment with provider")
	}
	return &PaymentOrder{ProviderOrderID: po.ID, Receipt: receipt, Amount: sum.Total, Currency: c.Currency}, nil
}
