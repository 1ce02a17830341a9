// Package gatewaytest is a scriptable, in-memory payment provider.
package gatewaytest

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"sync"
	"time"
)

const (
	KeySecret     = "test_key_secret"
	WebhookSecret = "test_webhook_secret"
)

// Fake implements gateway.Gateway. Payments are created by Authorize, which
// plays the part of the customer's browser; Capture, PaymentDetails and
// Refund then behave like the provider unless an error is scripted.
type Fake struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*gateway.ProviderOrder
	payments map[string]*gateway.ProviderPayment
	refunds  []gateway.ProviderRefund
	captures int

	// CaptureErr is returned by Capture instead of capturing.
	CaptureErr error
	// CaptureApplied, together with CaptureErr, captures the payment before
	// returning the error, modelling a timeout after the provider moved money.
	CaptureApplied bool
	// CaptureStatus, when set, is the provider status a capture answers
	// with instead of capturing.
	CaptureStatus string
	// RefundErr is returned by Refund.
	RefundErr error
	// DetailsErr maps payment id to an error for PaymentDetails.
	DetailsErr map[string]error
	// OnCapture runs after a successful capture, outside the lock.
	OnCapture func(paymentID string)
}

func New() *Fake {
	return &Fake{
		orders:     map[string]*gateway.ProviderOrder{},
		payments:   map[string]*gateway.ProviderPayment{},
		DetailsErr: map[string]error{},
	}
}

var _ gateway.Gateway = (*Fake)(nil)

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%06d", prefix, f.seq)
}

// Order creates a provider order directly, as the storefront would before
// checkout.
func (f *Fake) Order(amount decimal.Decimal, currency, receipt string) *gateway.ProviderOrder {
	o, _ := f.CreateOrder(context.Background(), amount, currency, receipt, gateway.Customer{})
	return o
}

// Authorize creates an authorized payment against providerOrderID and
// returns its id with a valid checkout signature.
func (f *Fake) Authorize(providerOrderID string, amount decimal.Decimal) (paymentID, signature string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next("pay")
	f.payments[id] = &gateway.ProviderPayment{
		ID:        id,
		OrderID:   providerOrderID,
		Status:    "authorized",
		Amount:    amount,
		Currency:  "INR",
		Method:    "card",
		CreatedAt: time.Now().UTC(),
	}
	return id, gateway.CheckoutSignature(KeySecret, providerOrderID, id)
}

// SetPayment replaces the provider's view of a payment.
func (f *Fake) SetPayment(p gateway.ProviderPayment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.payments[p.ID] = &cp
}

func (f *Fake) Payment(id string) (gateway.ProviderPayment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return gateway.ProviderPayment{}, false
	}
	return *p, true
}

func (f *Fake) Refunds() []gateway.ProviderRefund {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.ProviderRefund(nil), f.refunds...)
}

func (f *Fake) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *Fake) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, c gateway.Customer) (*gateway.ProviderOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if receipt != "" && o.Receipt == receipt {
			cp := *o
			return &cp, nil
		}
	}
	o := &gateway.ProviderOrder{ID: f.next("order"), Receipt: receipt, Amount: amount, Currency: currency, Status: "created"}
	f.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (f *Fake) VerifySignature(paymentID, orderID, signature string) error {
	return gateway.VerifyCheckout(KeySecret, orderID, paymentID, signature)
}

func (f *Fake) PaymentDetails(ctx context.Context, paymentID string) (*gateway.ProviderPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DetailsErr[paymentID]; err != nil {
		return nil, err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, errors.Mark(errors.Newf("payment %s not found", paymentID), gateway.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) Capture(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) (*gateway.ProviderPayment, error) {
	f.mu.Lock()
	p, ok := f.payments[paymentID]
	switch {
	case !ok:
		f.mu.Unlock()
		return nil, errors.Mark(errors.Newf("payment %s not found", paymentID), gateway.ErrNotFound)
	case f.CaptureErr != nil && !f.CaptureApplied:
		err := f.CaptureErr
		f.mu.Unlock()
		return nil, err
	case p.Status == "failed":
		f.mu.Unlock()
		return nil, errors.Mark(errors.Newf("payment %s failed", paymentID), gateway.ErrDeclined)
	case !p.Amount.Equal(amount):
		f.mu.Unlock()
		return nil, errors.Mark(errors.Newf("capture amount %s does not match %s", amount, p.Amount), gateway.ErrDeclined)
	}
	if f.CaptureStatus != "" {
		p.Status = f.CaptureStatus
		p.Captured = false
		cp := *p
		f.mu.Unlock()
		return &cp, nil
	}
	if p.Status != "captured" {
		p.Status = "captured"
		p.Captured = true
		f.captures++
	}
	cp := *p
	err := f.CaptureErr
	hook := f.OnCapture
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(paymentID)
	}
	return &cp, nil
}

func (f *Fake) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*gateway.ProviderRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	p, ok := f.payments[paymentID]
	if !ok || !p.Captured {
		return nil, errors.Mark(errors.Newf("payment %s not captured", paymentID), gateway.ErrDeclined)
	}
	if !amount.IsPositive() {
		amount = p.Amount
	}
	r := gateway.ProviderRefund{ID: f.next("rfnd"), PaymentID: paymentID, Amount: amount, Status: "processed"}
	f.refunds = append(f.refunds, r)
	if amount.GreaterThanOrEqual(p.Amount) {
		p.Status = "refunded"
	}
	return &r, nil
}

func (f *Fake) VerifyWebhookSignature(body []byte, signature string) error {
	return gateway.VerifyWebhook(WebhookSecret, body, signature)
}

func (f *Fake) DecodeWebhook(body []byte) (*gateway.WebhookEvent, error) {
	return gateway.DecodeWebhook(body)
}
