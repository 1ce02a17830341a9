package checkout

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/cockroachdb/errors"
	"log/slog"
)

// compensate refunds a capture whose order did not commit and returns the
// error the caller should see. The unit of work must already be rolled back.
// A failed refund is attached to cause, never returned in its place.
func (c *Coordinator) compensate(ctx context.Context, req Request, o *orders.Order, txn *payments.Transaction, cause error) error {
	ctx = context.WithoutCancel(ctx)
	reason := "checkout aborted: " + apperr.Message(cause)

	refund, err := c.Gateway.Refund(ctx, txn.ProviderPaymentID, txn.Amount, reason)
	if err != nil {
		c.Metrics.Compensation("refund_failed")
		c.Logger.ErrorContext(ctx, "compensating refund failed",
			slog.String("order_id", o.ID),
			slog.String("transaction_id", txn.ID),
			slog.String("provider_payment_id", txn.ProviderPaymentID),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()))
		c.updateTxn(ctx, txn, func(t *payments.Transaction) error {
			t.LastError = "refund failed: " + err.Error()
			t.Flag("compensating refund failed")
			return nil
		})
		return errors.WithSecondaryError(cause, err)
	}

	amount := txn.Amount
	if refund.Amount.IsPositive() {
		amount = refund.Amount
	}
	rec := payments.Refund{
		ProviderRefundID: refund.ID,
		Amount:           amount,
		Reason:           reason,
		Status:           refund.Status,
		ProcessedAt:      c.now(),
	}
	c.updateTxn(ctx, txn, func(t *payments.Transaction) error { return t.AddRefund(rec) })
	c.Metrics.Compensation("refunded")
	c.Logger.WarnContext(ctx, "checkout compensated",
		slog.String("order_id", o.ID),
		slog.String("transaction_id", txn.ID),
		slog.String("refund_id", refund.ID),
		slog.String("cause", cause.Error()))

	refundID := rec.ProviderRefundID
	if n := len(txn.Refunds); n > 0 {
		refundID = txn.Refunds[n-1].ID
	}
	c.publish(ctx, orders.TopicPaymentRefunded, orders.EventPaymentRefunded, o.ID, orders.PaymentRefundedPayload{
		OrderID:       o.ID,
		TransactionID: txn.ID,
		RefundID:      refundID,
		Amount:        amount,
		Reason:        reason,
	})

	c.remember(ctx, req, nil, cause)
	return cause
}
