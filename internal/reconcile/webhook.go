package reconcile

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"log/slog"
)

// HandleWebhook applies a verified provider event to the matching
// transaction using the same rules as reconciliation. Events for payments
// this service never saw are ignored.
func (j *Jobs) HandleWebhook(ctx context.Context, ev *gateway.WebhookEvent) error {
	if ev == nil || ev.Payment == nil {
		return nil
	}
	txn, err := j.lookup(ctx, ev.Payment)
	if errors.Is(err, payments.ErrNotFound) {
		j.Logger.InfoContext(ctx, "webhook for unknown payment",
			slog.String("event_id", ev.ID), slog.String("provider_payment_id", ev.Payment.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if txn.ProviderPaymentID == "" {
		txn.ProviderPaymentID = ev.Payment.ID
	}
	var rep Report
	return j.apply(ctx, sourceWebhook, txn, ev.Payment, &rep)
}

func (j *Jobs) lookup(ctx context.Context, p *gateway.ProviderPayment) (*payments.Transaction, error) {
	if p.ID != "" {
		txn, err := j.Transactions.GetByProviderPaymentID(ctx, p.ID)
		if !errors.Is(err, payments.ErrNotFound) {
			return txn, err
		}
	}
	if p.OrderID == "" {
		return nil, payments.ErrNotFound
	}
	return j.Transactions.GetByGatewayOrderID(ctx, p.OrderID)
}

// WebhookHandler consumes payment.webhook. Redis remembers processed event
// ids so a redelivered message is applied once.
type WebhookHandler struct {
	Jobs    *Jobs
	Gateway gateway.Gateway
	Redis   redis.Cmdable
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Service string
}

func (h *WebhookHandler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m)
	if err != nil {
		h.Metrics.Webhook("malformed")
		h.Logger.ErrorContext(ctx, "drop malformed webhook message", slog.String("error", err.Error()))
		return nil
	}
	if env.EventType != orders.EventPaymentWebhookReceived {
		return nil
	}
	in, err := orders.UnwrapPayload[orders.PaymentWebhookPayload](env)
	if err != nil {
		h.Metrics.Webhook("malformed")
		h.Logger.ErrorContext(ctx, "drop malformed webhook payload",
			slog.String("event_id", env.EventID), slog.String("error", err.Error()))
		return nil
	}
	ev, err := h.Gateway.DecodeWebhook(in.Body)
	if err != nil {
		h.Metrics.Webhook("malformed")
		h.Logger.ErrorContext(ctx, "drop undecodable webhook",
			slog.String("event_id", in.EventID), slog.String("error", err.Error()))
		return nil
	}

	key := redisx.DedupKey(h.Service+":webhook", ev.ID)
	first, err := redisx.MarkOnce(ctx, h.Redis, key, redisx.TTLDedup)
	if err != nil {
		return errors.Wrap(err, "webhook dedup")
	}
	if !first {
		h.Metrics.Webhook("duplicate")
		return nil
	}
	if err := h.Jobs.HandleWebhook(ctx, ev); err != nil {
		h.Metrics.Webhook("error")
		if ferr := redisx.Forget(ctx, h.Redis, key); ferr != nil {
			err = errors.WithSecondaryError(err, ferr)
		}
		return err
	}
	h.Metrics.Webhook("applied")
	h.Logger.InfoContext(ctx, "webhook applied",
		slog.String("event_id", ev.ID), slog.String("event", ev.Event))
	return nil
}
