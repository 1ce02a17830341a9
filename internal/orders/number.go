package orders

import (
	"crypto/rand"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/google/uuid"
	"time"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewNumber returns a human readable order number, ORD-YYYYMMDD-XXXXXX.
// Uniqueness is enforced by the storage layer, not here.
func NewNumber(now time.Time) string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		copy(b[:], uuid.New().String())
	}
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = numberAlphabet[int(v)%len(numberAlphabet)]
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + string(out)
}

type NewOrderInput struct {
	UserID            string
	Items             []LineItem
	ShippingAddressID string
	BillingAddressID  string
	CouponCode        string
	Totals            Totals
	Currency          string
	PaymentMethod     string
	Notes             string
}

// New builds a pending order with its payment summary pending as well.
func New(in NewOrderInput, now time.Time) *Order {
	now = now.UTC()
	return &Order{
		ID:                uuid.NewString(),
		PublicID:          uuid.NewString(),
		Number:            NewNumber(now),
		UserID:            in.UserID,
		Status:            StatusPending,
		Items:             append([]LineItem(nil), in.Items...),
		ShippingAddressID: in.ShippingAddressID,
		BillingAddressID:  in.BillingAddressID,
		Subtotal:          in.Totals.Subtotal,
		Discount:          in.Totals.Discount,
		Tax:               in.Totals.Tax,
		CouponCode:        in.CouponCode,
		CouponDiscount:    in.Totals.CouponDiscount,
		Total:             in.Totals.Total,
		Currency:          in.Currency,
		Payment: Payment{
			Method: in.PaymentMethod,
			Status: payments.StatusPending,
			Amount: in.Totals.Total,
		},
		Notes:     in.Notes,
		CreatedBy: in.UserID,
		UpdatedBy: in.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
