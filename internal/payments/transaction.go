package payments

import (
	"encoding/json"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

var ErrRefundExceedsAmount = errors.New("refund total would exceed captured amount")

// Transaction is one attempt to move money for one order.
type Transaction struct {
	ID                string          `json:"id"`
	PublicID          string          `json:"public_id"`
	OrderID           string          `json:"order_id"`
	UserID            string          `json:"user_id"`
	GatewayOrderID    string          `json:"gateway_order_id,omitempty"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            Status          `json:"status"`
	ProviderResponse  json.RawMessage `json:"provider_response,omitempty"`
	Fee               decimal.Decimal `json:"fee"`
	Refunds           []Refund        `json:"refunds"`
	RetryCount        int             `json:"retry_count"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	FlaggedForReview  bool            `json:"flagged_for_review"`
	ReviewReason      string          `json:"review_reason,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	Deleted           bool            `json:"-"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Refund struct {
	ID               string          `json:"id"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	Status           string          `json:"status"`
	ProcessedAt      time.Time       `json:"processed_at"`
}

func NewTransaction(orderID, userID, method, currency string, amount decimal.Decimal, now time.Time) *Transaction {
	now = now.UTC()
	return &Transaction{
		ID:        uuid.NewString(),
		PublicID:  uuid.NewString(),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Method:    method,
		Status:    StatusPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t *Transaction) RefundedAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range t.Refunds {
		sum = sum.Add(r.Amount)
	}
	return sum
}

// AddRefund appends r; the refund total can never exceed Amount.
func (t *Transaction) AddRefund(r Refund) error {
	if !r.Amount.IsPositive() {
		return errors.Newf("refund amount must be positive, got %s", r.Amount)
	}
	if t.RefundedAmount().Add(r.Amount).GreaterThan(t.Amount) {
		return ErrRefundExceedsAmount
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	t.Refunds = append(t.Refunds, r)
	if t.RefundedAmount().Equal(t.Amount) {
		t.Status = StatusRefunded
	}
	return nil
}

func (t *Transaction) MarkSuccess(now time.Time) {
	now = now.UTC()
	t.Status = StatusSuccess
	t.PaidAt = &now
	t.NextRetryAt = nil
	t.LastError = ""
}

// MarkFailed records a failure and schedules the next provider re-check.
func (t *Transaction) MarkFailed(reason string, now time.Time, p RetryPolicy) {
	now = now.UTC()
	t.Status = StatusFailed
	t.LastError = reason
	t.FailedAt = &now
	next := p.NextRetryAt(now, t.RetryCount)
	t.NextRetryAt = &next
}

func (t *Transaction) Flag(reason string) {
	t.FlaggedForReview = true
	if t.ReviewReason == "" {
		t.ReviewReason = reason
	} else if t.ReviewReason != reason {
		t.ReviewReason += "; " + reason
	}
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Refunds = append([]Refund(nil), t.Refunds...)
	c.ProviderResponse = append(json.RawMessage(nil), t.ProviderResponse...)
	for _, p := range []**time.Time{&c.NextRetryAt, &c.FailedAt, &c.PaidAt} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return &c
}
