package orders

import (
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/shopspring/decimal"
	"time"
)

type Order struct {
	ID                string          `json:"id"`
	PublicID          string          `json:"public_id"`
	Number            string          `json:"order_number"`
	UserID            string          `json:"user_id"`
	Status            Status          `json:"status"`
	Items             []LineItem      `json:"items"`
	ShippingAddressID string          `json:"shipping_address_id"`
	BillingAddressID  string          `json:"billing_address_id"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Discount          decimal.Decimal `json:"discount"`
	Tax               decimal.Decimal `json:"tax"`
	CouponCode        string          `json:"coupon_code,omitempty"`
	CouponDiscount    decimal.Decimal `json:"coupon_discount"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	Payment           Payment         `json:"payment"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	Carrier           string          `json:"carrier,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Deleted           bool            `json:"-"`
	CreatedBy         string          `json:"created_by"`
	UpdatedBy         string          `json:"updated_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type LineItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"` // whole-line discount
	Total     decimal.Decimal `json:"total"`    // unit_price * qty
}

// Payment is the summary embedded in the order; the full record lives in
// payments.Transaction.
type Payment struct {
	Method            string          `json:"method"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Status            payments.Status `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}

func (o *Order) Totals() Totals {
	return Totals{
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		CouponDiscount: o.CouponDiscount,
		Tax:            o.Tax,
		Total:          o.Total,
	}
}

// Clone returns a deep copy so stored orders are never aliased by callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.Payment.PaidAt != nil {
		t := *o.Payment.PaidAt
		c.Payment.PaidAt = &t
	}
	return &c
}
