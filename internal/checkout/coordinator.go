// Package checkout runs the checkout saga: price the cart, open a unit of
// work, create the order, capture the payment, confirm the order and take
// the stock, commit. A failure after capture rolls the unit of work back and
// refunds the capture before the error is returned.
package checkout

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/idempotency"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/ariefcatur/go-checkout-saga/internal/store"
	"github.com/cockroachdb/errors"
	"log/slog"
	"time"
)

const (
	outcomeSuccess     = "success"
	outcomeReplay      = "replay"
	outcomeRejected    = "rejected"
	outcomeDeclined    = "declined"
	outcomeUnknown     = "unknown"
	outcomeCompensated = "compensated"
	outcomeError       = "error"

	actorCheckout = "checkout"
)

type Coordinator struct {
	Store       store.Store
	Gateway     gateway.Gateway
	Idempotency idempotency.Store
	Carts       Carts
	Coupons     Coupons
	Pricing     Pricing
	Addresses   Addresses
	Events      orders.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Retry       payments.RetryPolicy
	Currency    string
	Service     string
	Now         func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// ProcessCheckout turns the user's cart into a confirmed, paid order. With
// an idempotency key, a repeat of a completed request returns the recorded
// result without side effects.
func (c *Coordinator) ProcessCheckout(ctx context.Context, req Request) (*orders.Order, error) {
	start := time.Now()
	o, outcome, err := c.process(ctx, req)
	c.Metrics.CheckoutFinished(outcome, time.Since(start))
	if err != nil && outcome != outcomeRejected && outcome != outcomeReplay {
		c.Logger.ErrorContext(ctx, "checkout failed",
			slog.String("user_id", req.UserID),
			slog.String("outcome", outcome),
			slog.String("code", apperr.CodeOf(err)),
			slog.String("error", err.Error()))
	}
	return o, err
}

func (c *Coordinator) process(ctx context.Context, req Request) (*orders.Order, string, error) {
	req.normalize()
	if r, ok := c.lookup(ctx, req); ok {
		c.Metrics.Replay()
		o, err := r.result()
		return o, outcomeReplay, err
	}

	if err := req.validate(); err != nil {
		return nil, outcomeRejected, err
	}
	cart, err := c.cart(ctx, req.UserID)
	if err != nil {
		return nil, outcomeRejected, err
	}
	p := req.Payment
	if err := c.Gateway.VerifySignature(p.PaymentID, p.ProviderOrderID, p.Signature); err != nil {
		return nil, outcomeRejected, apperr.Wrap(apperr.KindInvalid, apperr.CodeSignatureMismatch, err, "payment signature does not match")
	}
	sum, err := c.price(ctx, cart, req.CouponCode)
	if err != nil {
		return nil, outcomeRejected, err
	}
	if err := c.precheck(ctx, sum.Items); err != nil {
		return nil, outcomeRejected, err
	}
	shipID, billID, err := c.addresses(ctx, req)
	if err != nil {
		return nil, outcomeRejected, err
	}

	o := orders.New(orders.NewOrderInput{
		UserID:            req.UserID,
		Items:             sum.Items,
		ShippingAddressID: shipID,
		BillingAddressID:  billID,
		CouponCode:        sum.CouponCode,
		Totals:            sum.Totals,
		Currency:          c.Currency,
		PaymentMethod:     req.PaymentMethod,
		Notes:             req.Notes,
	}, c.now())
	return c.run(ctx, req, o)
}

// precheck refuses a cart that plainly cannot be fulfilled before any money
// moves. It does not hold stock; the decrement after capture decides.
func (c *Coordinator) precheck(ctx context.Context, items []orders.LineItem) error {
	want := map[string]int{}
	var skus []string
	for _, it := range items {
		if _, ok := want[it.SKU]; !ok {
			skus = append(skus, it.SKU)
		}
		want[it.SKU] += it.Qty
	}
	for _, sku := range skus {
		if err := stock.CheckAvailable(ctx, c.Store.Stock(), sku, want[sku]); err != nil {
			return classify(err, "could not check stock")
		}
	}
	return nil
}

func (c *Coordinator) addresses(ctx context.Context, req Request) (string, string, error) {
	shipID, err := c.Addresses.Create(ctx, req.UserID, *req.ShippingAddress)
	if err != nil {
		return "", "", classify(err, "could not save shipping address")
	}
	if req.BillingAddress.empty() {
		return shipID, shipID, nil
	}
	billID, err := c.Addresses.Create(ctx, req.UserID, *req.BillingAddress)
	if err != nil {
		return "", "", classify(err, "could not save billing address")
	}
	return shipID, billID, nil
}

// run is the transactional part of the saga.
func (c *Coordinator) run(ctx context.Context, req Request, o *orders.Order) (*orders.Order, string, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return nil, outcomeError, apperr.Storage(err, "could not start checkout")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, outcomeError, apperr.Storage(err, "could not create order")
	}
	txn, err := c.attempt(ctx, req, o)
	if err != nil {
		return nil, outcomeError, classify(err, "could not record payment attempt")
	}

	captured, err := c.Gateway.Capture(ctx, txn.ProviderPaymentID, o.Total, o.Currency)
	if err == nil {
		err = gateway.CheckCaptured(captured)
	}
	if err != nil {
		outcome, err := c.captureFailed(ctx, txn, err)
		if outcome == outcomeDeclined {
			c.remember(context.WithoutCancel(ctx), req, nil, err)
		}
		return nil, outcome, err
	}

	// Money has moved; a caller going away must not abort the rest.
	ctx = context.WithoutCancel(ctx)
	if err := c.confirm(ctx, tx, o, txn, captured); err != nil {
		_ = tx.Rollback(ctx)
		return nil, outcomeCompensated, c.compensate(ctx, req, o, txn, err)
	}

	c.afterCommit(ctx, req, o, txn)
	c.remember(ctx, req, o, nil)
	return o, outcomeSuccess, nil
}

// attempt records the payment attempt outside the unit of work. A payment
// id left behind by a rolled back attempt is taken over; one that already
// paid for something is refused.
func (c *Coordinator) attempt(ctx context.Context, req Request, o *orders.Order) (*payments.Transaction, error) {
	repo := c.Store.Transactions()
	prev, err := repo.GetByProviderPaymentID(ctx, req.Payment.PaymentID)
	switch {
	case errors.Is(err, payments.ErrNotFound):
		txn := payments.NewTransaction(o.ID, o.UserID, req.PaymentMethod, o.Currency, o.Total, c.now())
		txn.GatewayOrderID = req.Payment.ProviderOrderID
		txn.ProviderPaymentID = req.Payment.PaymentID
		return txn, errors.Wrap(repo.Create(ctx, txn), "create transaction")
	case err != nil:
		return nil, errors.Wrap(err, "lookup transaction")
	case prev.Status == payments.StatusSuccess || prev.Status == payments.StatusRefunded:
		return nil, apperr.Conflict(apperr.CodePaymentUsed, "payment has already been applied")
	}
	prev.OrderID = o.ID
	prev.Amount = o.Total
	prev.Currency = o.Currency
	prev.Method = req.PaymentMethod
	prev.GatewayOrderID = req.Payment.ProviderOrderID
	prev.Status = payments.StatusPending
	prev.NextRetryAt = nil
	return prev, errors.Wrap(repo.Update(ctx, prev), "reuse transaction")
}

// captureFailed settles the transaction after a capture error. A decline is
// final, recorded under the idempotency key by the caller and scheduled for
// re-check; an unknown outcome is left pending for the sync job.
func (c *Coordinator) captureFailed(ctx context.Context, txn *payments.Transaction, cause error) (string, error) {
	cctx := context.WithoutCancel(ctx)
	if gateway.IsUnknown(cause) || errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		c.updateTxn(cctx, txn, func(t *payments.Transaction) error {
			t.LastError = cause.Error()
			return nil
		})
		return outcomeUnknown, apperr.Wrap(apperr.KindGateway, apperr.CodePaymentPending, cause,
			"payment outcome is unknown, it will be reconciled")
	}
	c.updateTxn(cctx, txn, func(t *payments.Transaction) error {
		t.MarkFailed(cause.Error(), c.now(), c.Retry)
		return nil
	})
	return outcomeDeclined, apperr.Wrap(apperr.KindDeclined, apperr.CodePaymentDeclined, cause, "payment was declined")
}

// confirm runs steps after a successful capture. Any error it returns means
// the unit of work did not commit.
func (c *Coordinator) confirm(ctx context.Context, tx store.Tx, o *orders.Order, txn *payments.Transaction, p *gateway.ProviderPayment) error {
	if !p.Amount.Equal(o.Total) {
		return apperr.Gateway(errors.Newf("captured %s, order total %s", p.Amount, o.Total),
			"captured amount does not match the order total")
	}
	txn.MarkSuccess(c.now())
	if json.Valid(p.Raw) {
		txn.ProviderResponse = p.Raw
	}
	if err := c.Store.Transactions().Update(ctx, txn); err != nil {
		return apperr.Storage(err, "could not record captured payment")
	}

	o.Payment = orders.Payment{
		Method:            txn.Method,
		TransactionID:     txn.ID,
		ProviderPaymentID: p.ID,
		Status:            payments.StatusSuccess,
		Amount:            o.Total,
		PaidAt:            txn.PaidAt,
	}
	if err := tx.Orders().UpdatePayment(ctx, o.ID, o.Payment, o.UserID); err != nil {
		return apperr.Storage(err, "could not update order payment")
	}
	if err := tx.Orders().UpdateStatus(ctx, o.ID, orders.StatusPending, orders.StatusConfirmed, o.UserID); err != nil {
		return apperr.Storage(err, "could not confirm order")
	}
	o.Status = orders.StatusConfirmed

	ref := "order:" + o.Number
	for _, it := range o.Items {
		if _, err := tx.Stock().Decrement(ctx, it.SKU, it.Qty, ref); err != nil {
			return classify(err, "could not take stock for "+it.SKU)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage(err, "could not commit order")
	}
	return nil
}

// updateTxn applies fn to txn and saves it, reloading once on a version
// conflict. Failures are logged; the transaction record is repaired by
// reconciliation.
func (c *Coordinator) updateTxn(ctx context.Context, txn *payments.Transaction, fn func(*payments.Transaction) error) {
	repo := c.Store.Transactions()
	cur := txn
	for attempt := 0; attempt < 2; attempt++ {
		if err := fn(cur); err != nil {
			c.Logger.ErrorContext(ctx, "transaction update rejected",
				slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
			return
		}
		err := repo.Update(ctx, cur)
		if err == nil {
			*txn = *cur
			return
		}
		if !errors.Is(err, payments.ErrVersionConflict) || attempt == 1 {
			c.Logger.ErrorContext(ctx, "transaction update failed",
				slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
			return
		}
		if cur, err = repo.Get(ctx, txn.ID); err != nil {
			c.Logger.ErrorContext(ctx, "transaction reload failed",
				slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
			return
		}
	}
}

func (c *Coordinator) afterCommit(ctx context.Context, req Request, o *orders.Order, txn *payments.Transaction) {
	if err := c.Carts.Clear(ctx, o.UserID); err != nil {
		c.Logger.WarnContext(ctx, "cart clear failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}
	if o.CouponCode != "" && c.Coupons != nil {
		if err := c.Coupons.Redeem(ctx, o.CouponCode, o.UserID, o.ID); err != nil {
			c.Logger.WarnContext(ctx, "coupon redeem failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
		}
	}

	c.publish(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Items:       orders.ItemsQty(o.Items),
		Total:       o.Total,
		Currency:    o.Currency,
	})
	c.publish(ctx, orders.TopicPaymentCaptured, orders.EventPaymentCaptured, o.ID, orders.PaymentCapturedPayload{
		OrderID:           o.ID,
		TransactionID:     txn.ID,
		ProviderPaymentID: txn.ProviderPaymentID,
		Amount:            txn.Amount,
	})
	c.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		From:        orders.StatusPending,
		To:          orders.StatusConfirmed,
		Actor:       actorCheckout,
	})
	c.Logger.InfoContext(ctx, "checkout completed",
		slog.String("order_id", o.ID),
		slog.String("order_number", o.Number),
		slog.String("total", o.Total.StringFixed(2)))
}

func (c *Coordinator) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if c.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, c.Service, orderID, "", payload)
	if err == nil {
		err = c.Events.Publish(ctx, topic, orders.PartitionKey(orderID), env)
	}
	if err != nil {
		c.Logger.ErrorContext(ctx, "publish failed",
			slog.String("topic", topic), slog.String("order_id", orderID), slog.String("error", err.Error()))
	}
}
