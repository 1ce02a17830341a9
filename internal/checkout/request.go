package checkout

import (
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"strings"
)

// PaymentDetails is what the provider returns to the client after the
// customer pays against ProviderOrderID.
type PaymentDetails struct {
	ProviderOrderID string `json:"provider_order_id"`
	PaymentID       string `json:"payment_id"`
	Signature       string `json:"signature"`
}

type Request struct {
	UserID          string          `json:"-"`
	ShippingAddress *Address        `json:"shipping_address"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Payment         *PaymentDetails `json:"payment,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Methods settled through the gateway. Cash on delivery is not accepted.
var supportedMethods = map[string]bool{
	"card":       true,
	"upi":        true,
	"netbanking": true,
	"wallet":     true,
}

func (r *Request) normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	r.CouponCode = strings.ToUpper(strings.TrimSpace(r.CouponCode))
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
}

func (r *Request) validate() error {
	if r.UserID == "" {
		return apperr.Invalid(apperr.CodeMissingUser, "user is required")
	}
	if r.ShippingAddress.empty() {
		return apperr.Invalid(apperr.CodeMissingAddress, "shipping address is required")
	}
	if r.PaymentMethod == "" {
		return apperr.Invalid(apperr.CodeMissingPayment, "payment method is required")
	}
	if !supportedMethods[r.PaymentMethod] {
		return apperr.Invalid(apperr.CodeUnsupportedMethod, "payment method "+r.PaymentMethod+" is not supported")
	}
	p := r.Payment
	if p == nil || p.ProviderOrderID == "" || p.PaymentID == "" || p.Signature == "" {
		return apperr.Invalid(apperr.CodeMissingDetails, "payment details are required")
	}
	return nil
}
