package reconcile

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/cockroachdb/errors"
	"log/slog"
)

const (
	reasonAmountMismatch = "amount mismatch"
	reasonOrphanCapture  = "orphan capture"
	reasonDowngrade      = "provider reports uncaptured payment recorded as success"
)

// apply brings txn in line with the provider view p. A local success is
// never downgraded; suspicious differences are flagged for a human instead.
func (j *Jobs) apply(ctx context.Context, source string, txn *payments.Transaction, p *gateway.ProviderPayment, rep *Report) error {
	from := txn.Status
	now := j.now()
	remote := p.Mapped()
	changed := false
	var flagged string

	switch {
	case remote == payments.StatusSuccess && !p.Amount.Equal(txn.Amount):
		flagged = reasonAmountMismatch
	case remote == payments.StatusSuccess && txn.Status != payments.StatusSuccess && txn.Status != payments.StatusRefunded:
		txn.MarkSuccess(now)
		changed = true
	case txn.Status == payments.StatusSuccess && (remote == payments.StatusFailed || remote.InFlight()):
		flagged = reasonDowngrade
	case remote == payments.StatusFailed && txn.Status.InFlight():
		reason := p.ErrorDescription
		if reason == "" {
			reason = "provider reports payment failed"
		}
		txn.MarkFailed(reason, now, j.Retry)
		changed = true
	case remote == payments.StatusRefunded:
		rest := txn.Amount.Sub(txn.RefundedAmount())
		if rest.IsPositive() {
			if err := txn.AddRefund(payments.Refund{
				Amount:      rest,
				Reason:      "refunded at provider",
				Status:      "processed",
				ProcessedAt: now,
			}); err != nil {
				return err
			}
			changed = true
		}
	case remote == payments.StatusProcessing && txn.Status == payments.StatusPending:
		txn.Status = payments.StatusProcessing
		changed = true
	}

	if !changed && flagged == "" {
		return nil
	}
	if json.Valid(p.Raw) {
		txn.ProviderResponse = p.Raw
	}

	if changed && txn.Status == payments.StatusSuccess {
		orphan, err := j.settleOrder(ctx, txn)
		if err != nil {
			return err
		}
		if orphan {
			flagged = reasonOrphanCapture
		}
	}
	if flagged != "" {
		txn.Flag(flagged)
	}

	if err := j.Transactions.Update(ctx, txn); err != nil {
		return err
	}
	if changed {
		rep.Updated++
	}
	if flagged != "" {
		rep.Flagged++
		j.Logger.WarnContext(ctx, "transaction flagged for review",
			slog.String("transaction_id", txn.ID),
			slog.String("provider_payment_id", txn.ProviderPaymentID),
			slog.String("reason", flagged))
	}
	j.audit(ctx, source, txn, from, flagged)
	return nil
}

// settleOrder copies a late success onto the order's payment summary. It
// reports true when the order no longer exists.
func (j *Jobs) settleOrder(ctx context.Context, txn *payments.Transaction) (bool, error) {
	if j.Orders == nil {
		return false, nil
	}
	if txn.OrderID == "" {
		return true, nil
	}
	o, err := j.Orders.Get(ctx, txn.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "load order")
	}
	err = j.Orders.UpdatePayment(ctx, o.ID, orders.Payment{
		Method:            txn.Method,
		TransactionID:     txn.ID,
		ProviderPaymentID: txn.ProviderPaymentID,
		Status:            txn.Status,
		Amount:            txn.Amount,
		PaidAt:            txn.PaidAt,
	}, "reconciler")
	return false, errors.Wrap(err, "update order payment")
}

func (j *Jobs) audit(ctx context.Context, source string, txn *payments.Transaction, from payments.Status, reason string) {
	if j.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventPaymentStatusChanged, j.Service, txn.OrderID, "", orders.PaymentStatusChangedPayload{
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		From:          string(from),
		To:            string(txn.Status),
		Source:        source,
		Flagged:       txn.FlaggedForReview,
		Reason:        reason,
	})
	if err == nil {
		err = j.Events.Publish(ctx, orders.TopicPaymentAudit, orders.PartitionKey(txn.OrderID), env)
	}
	if err != nil {
		j.Logger.ErrorContext(ctx, "publish payment audit failed",
			slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
	}
}
