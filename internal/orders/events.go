package orders

import (
	"context"
	"encoding/json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventPaymentCaptured        = "PaymentCaptured"
	EventPaymentRefunded        = "PaymentRefunded"
	EventPaymentStatusChanged   = "PaymentStatusChanged"
	EventPaymentWebhookReceived = "PaymentWebhookReceived"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher is implemented by the Kafka producer. Implementations must not
// block the caller on broker availability.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env Envelope) error
}

// NewEnvelope wraps payload in a v1 envelope.
func NewEnvelope(eventType, producer, correlationID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// UnwrapPayload decodes the payload of env into T.
func UnwrapPayload[T any](env Envelope) (T, error) {
	var t T
	err := json.Unmarshal(env.Payload, &t)
	return t, err
}

// ---- Payload tipe per event ----

type ItemQty struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Items       []ItemQty       `json:"items"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

type OrderStatusChangedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Actor       string    `json:"actor"`
	Items       []ItemQty `json:"items,omitempty"`
}

type PaymentCapturedPayload struct {
	OrderID           string          `json:"order_id"`
	TransactionID     string          `json:"transaction_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
}

type PaymentRefundedPayload struct {
	OrderID       string          `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	RefundID      string          `json:"refund_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

type PaymentStatusChangedPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Source        string `json:"source"` // sync | reconcile | retry | webhook
	Flagged       bool   `json:"flagged,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentWebhookPayload carries a verified provider notification verbatim.
type PaymentWebhookPayload struct {
	EventID string          `json:"event_id"`
	Event   string          `json:"event"`
	Body    json.RawMessage `json:"body"`
}

func ItemsQty(items []LineItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{SKU: it.SKU, Qty: it.Qty})
	}
	return out
}
