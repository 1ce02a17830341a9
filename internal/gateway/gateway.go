// Package gateway talks to the payment provider. Provider vocabulary stays
// inside this package; callers only see payments.Status.
package gateway

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

var (
	// ErrSignatureMismatch is a hard rejection; the payload is not trusted.
	ErrSignatureMismatch = errors.New("gateway: signature mismatch")
	// ErrDeclined means the provider definitively refused the operation.
	ErrDeclined = errors.New("gateway: declined")
	// ErrOutcomeUnknown means the request may or may not have taken effect.
	ErrOutcomeUnknown = errors.New("gateway: outcome unknown")
	ErrNotFound       = errors.New("gateway: not found")
)

type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"contact,omitempty"`
}

type ProviderOrder struct {
	ID       string
	Receipt  string
	Amount   decimal.Decimal
	Currency string
	Status   string
}

// ProviderPayment is the provider's view of one payment. Status is the raw
// provider word; use Mapped for the local vocabulary.
type ProviderPayment struct {
	ID               string
	OrderID          string
	Status           string
	Amount           decimal.Decimal
	Currency         string
	Method           string
	Captured         bool
	ErrorCode        string
	ErrorDescription string
	CreatedAt        time.Time
	Raw              []byte
}

func (p *ProviderPayment) Mapped() payments.Status { return MapStatus(p.Status) }

type ProviderRefund struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Status    string
}

// WebhookEvent is a decoded provider notification. ID is stable across
// redeliveries of the same event.
type WebhookEvent struct {
	ID        string
	Event     string
	Payment   *ProviderPayment
	CreatedAt time.Time
}

// Gateway is the provider-facing port used by checkout and reconciliation.
// A zero refund amount refunds the full remaining amount.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, c Customer) (*ProviderOrder, error)
	VerifySignature(paymentID, orderID, signature string) error
	PaymentDetails(ctx context.Context, paymentID string) (*ProviderPayment, error)
	Capture(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) (*ProviderPayment, error)
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*ProviderRefund, error)
	VerifyWebhookSignature(body []byte, signature string) error
	DecodeWebhook(body []byte) (*WebhookEvent, error)
}

var statusTable = map[string]payments.Status{
	"created":    payments.StatusPending,
	"authorized": payments.StatusProcessing,
	"captured":   payments.StatusSuccess,
	"failed":     payments.StatusFailed,
	"refunded":   payments.StatusRefunded,
}

// MapStatus translates a provider status. Anything unrecognised is pending
// so the sync job keeps asking instead of trusting it.
func MapStatus(provider string) payments.Status {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return s
	}
	return payments.StatusPending
}

// ToMinor converts an amount to integer minor units (paise, cents).
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func FromMinor(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// CheckCaptured accepts a capture response only when the provider reports
// the payment captured. Failed or refunded is a decline; anything else leaves
// the outcome unknown.
func CheckCaptured(p *ProviderPayment) error {
	if p == nil {
		return errors.Mark(errors.New("capture returned no payment"), ErrOutcomeUnknown)
	}
	switch p.Mapped() {
	case payments.StatusSuccess:
		return nil
	case payments.StatusFailed, payments.StatusRefunded:
		return errors.Mark(errors.Newf("payment %s is %s after capture", p.ID, p.Status), ErrDeclined)
	}
	return errors.Mark(errors.Newf("payment %s is %s after capture", p.ID, p.Status), ErrOutcomeUnknown)
}

// IsUnknown reports whether err leaves the provider-side outcome undecided.
func IsUnknown(err error) bool { return errors.Is(err, ErrOutcomeUnknown) }
