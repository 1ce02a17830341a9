package checkout_test

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway/gatewaytest"
	"github.com/ariefcatur/go-checkout-saga/internal/idempotency"
	"github.com/ariefcatur/go-checkout-saga/internal/kafka/kafkatest"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/ariefcatur/go-checkout-saga/internal/store/memstore"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type harness struct {
	co      *checkout.Coordinator
	st      *memstore.Store
	gw      *gatewaytest.Fake
	carts   *fakeCarts
	coupons *fakeCoupons
	events  *kafkatest.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:      memstore.New(),
		gw:      gatewaytest.New(),
		carts:   newCarts(),
		coupons: &fakeCoupons{},
		events:  &kafkatest.Recorder{},
	}
	h.st.SeedStock(stock.NewRecord("A", 10, 2), stock.NewRecord("B", 20, 2), stock.NewRecord("C", 3, 0))
	h.co = &checkout.Coordinator{
		Store:       h.st,
		Gateway:     h.gw,
		Idempotency: idempotency.NewMemory(100, time.Hour),
		Carts:       h.carts,
		Coupons:     h.coupons,
		Pricing:     bulkPricing{},
		Addresses:   &fakeAddresses{},
		Events:      h.events,
		Logger:      logging.Discard(),
		Retry:       payments.DefaultRetryPolicy(),
		Currency:    "INR",
		Service:     "checkout-test",
	}
	return h
}

var home = &checkout.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"}

func item(sku string, qty int, price string) checkout.CartItem {
	return checkout.CartItem{ProductID: "p-" + sku, SKU: sku, Qty: qty, UnitPrice: decimal.RequireFromString(price)}
}

// pay opens a provider order for the user's current cart and authorizes it,
// the way the storefront does before calling checkout.
func (h *harness) pay(t *testing.T, userID, coupon, key string) checkout.Request {
	t.Helper()
	po, err := h.co.CreatePaymentOrder(context.Background(), userID, coupon, key)
	require.NoError(t, err)
	pid, sig := h.gw.Authorize(po.ProviderOrderID, po.Amount)
	return checkout.Request{
		UserID:          userID,
		ShippingAddress: home,
		PaymentMethod:   "card",
		CouponCode:      coupon,
		Payment:         &checkout.PaymentDetails{ProviderOrderID: po.ProviderOrderID, PaymentID: pid, Signature: sig},
		IdempotencyKey:  key,
	}
}

func (h *harness) available(t *testing.T, sku string) int {
	t.Helper()
	rec, err := h.st.Stock().Get(context.Background(), sku)
	require.NoError(t, err)
	return rec.Available
}

func (h *harness) successful() []*payments.Transaction {
	var out []*payments.Transaction
	for _, txn := range h.st.AllTransactions() {
		if txn.Status == payments.StatusSuccess {
			out = append(out, txn)
		}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCheckoutSingleItemWithTax(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0.18", item("A", 2, "100"))

	o, err := h.co.ProcessCheckout(context.Background(), h.pay(t, "u1", "", "k-1"))
	require.NoError(t, err)

	assert.True(t, o.Subtotal.Equal(dec("200")))
	assert.True(t, o.Tax.Equal(dec("36")))
	assert.True(t, o.Total.Equal(dec("236")), o.Total.String())
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, payments.StatusSuccess, o.Payment.Status)
	assert.NotNil(t, o.Payment.PaidAt)
	assert.Equal(t, o.ShippingAddressID, o.BillingAddressID)
	assert.Equal(t, 8, h.available(t, "A"))

	stored, err := h.st.Orders().Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)

	succ := h.successful()
	require.Len(t, succ, 1)
	assert.Equal(t, o.ID, succ[0].OrderID)
	assert.True(t, succ[0].Amount.Equal(dec("236")))

	assert.Len(t, h.events.ByTopic(orders.TopicOrderCreated), 1)
	assert.Len(t, h.events.ByTopic(orders.TopicPaymentCaptured), 1)
	assert.Len(t, h.events.ByTopic(orders.TopicOrderStatusChanged), 1)
	assert.Equal(t, []string{"u1"}, h.carts.cleared)
}

func TestCheckoutWithCoupon(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0.18", item("B", 5, "100"))

	o, err := h.co.ProcessCheckout(context.Background(), h.pay(t, "u1", "save10", ""))
	require.NoError(t, err)

	assert.True(t, o.Subtotal.Equal(dec("500")))
	assert.True(t, o.CouponDiscount.Equal(dec("50")))
	// 5 units trip the bulk rule: 5% of the 500 line
	assert.True(t, o.Discount.Equal(dec("25")))
	assert.True(t, o.Tax.Equal(dec("90")))
	assert.True(t, o.Total.Equal(dec("515")), o.Total.String())
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Equal(t, []string{"SAVE10:" + o.ID}, h.coupons.redeemed)
}

func TestTotalsInvariantMixedCart(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0.18", item("A", 3, "19.99"), item("B", 1, "250"), item("C", 2, "0.35"))

	o, err := h.co.ProcessCheckout(context.Background(), h.pay(t, "u1", "SAVE10", ""))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Total)
	}
	assert.True(t, sum.Equal(o.Subtotal))
	want := o.Subtotal.Sub(o.Discount).Sub(o.CouponDiscount).Add(o.Tax).Round(2)
	assert.True(t, o.Total.Equal(want), "%s != %s", o.Total, want)
	assert.False(t, o.Total.IsNegative())
}

func TestIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0.18", item("A", 2, "100"))
	req := h.pay(t, "u1", "", "same-key")

	first, err := h.co.ProcessCheckout(context.Background(), req)
	require.NoError(t, err)
	second, err := h.co.ProcessCheckout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.st.OrderCount())
	assert.Len(t, h.successful(), 1)
	assert.Equal(t, 1, h.gw.Captures())
	assert.Equal(t, 8, h.available(t, "A"))
}

func TestReplayKeyIsScopedToUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.carts.put("alice", "0.18", item("A", 2, "100"))
	first, err := h.co.ProcessCheckout(ctx, h.pay(t, "alice", "", "shared-key"))
	require.NoError(t, err)

	o, err := h.co.ProcessCheckout(ctx, checkout.Request{UserID: "mallory", IdempotencyKey: "shared-key"})
	require.Error(t, err)
	assert.Nil(t, o)
	assert.True(t, apperr.IsClient(err))

	h.carts.put("mallory", "0", item("B", 1, "50"))
	own, err := h.co.ProcessCheckout(ctx, h.pay(t, "mallory", "", "shared-key"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, own.ID)
	assert.Equal(t, "mallory", own.UserID)
	assert.True(t, own.Total.Equal(dec("50")))

	again, err := h.co.ProcessCheckout(ctx, checkout.Request{UserID: "alice", IdempotencyKey: "shared-key"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, h.st.OrderCount())
	assert.Equal(t, 2, h.gw.Captures())
}

func TestCompensationWhenStockRunsOutAfterCapture(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("C", 2, "50"))
	req := h.pay(t, "u1", "", "k-comp")

	// another buyer takes the stock between the pre-check and the decrement
	h.gw.OnCapture = func(string) {
		_, err := h.st.Stock().Decrement(context.Background(), "C", 2, "order:elsewhere")
		require.NoError(t, err)
	}

	o, err := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, o)
	assert.True(t, errors.Is(err, stock.ErrInsufficientStock))
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))

	refunds := h.gw.Refunds()
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].Amount.Equal(dec("100")))
	assert.Equal(t, 0, h.st.OrderCount())
	assert.Equal(t, 1, h.available(t, "C"))

	txns := h.st.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, payments.StatusRefunded, txns[0].Status)
	require.Len(t, txns[0].Refunds, 1)
	assert.True(t, txns[0].Refunds[0].Amount.Equal(dec("100")))
	assert.Len(t, h.events.ByTopic(orders.TopicPaymentRefunded), 1)
	assert.Empty(t, h.events.ByTopic(orders.TopicOrderCreated))

	// the compensated outcome is replayed, nothing is charged again
	h.gw.OnCapture = nil
	_, again := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, again)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(again))
	assert.Equal(t, 1, h.gw.Captures())
	assert.Len(t, h.gw.Refunds(), 1)
}

func TestFailedRefundKeepsOriginalError(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("C", 3, "10"))
	req := h.pay(t, "u1", "", "")
	h.gw.OnCapture = func(string) {
		_, _ = h.st.Stock().Decrement(context.Background(), "C", 1, "order:elsewhere")
	}
	h.gw.RefundErr = errors.Mark(errors.New("provider down"), gateway.ErrOutcomeUnknown)

	_, err := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	assert.Equal(t, 0, h.st.OrderCount())

	txns := h.st.AllTransactions()
	require.Len(t, txns, 1)
	assert.True(t, txns[0].FlaggedForReview)
	assert.Contains(t, txns[0].LastError, "refund failed")
}

func TestValidationFailsBeforeSideEffects(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0.18", item("A", 1, "100"))
	valid := h.pay(t, "u1", "", "")

	cases := []struct {
		name   string
		mutate func(r *checkout.Request)
		code   string
	}{
		{"no user", func(r *checkout.Request) { r.UserID = "" }, apperr.CodeMissingUser},
		{"empty cart", func(r *checkout.Request) { r.UserID = "nobody" }, apperr.CodeEmptyCart},
		{"no address", func(r *checkout.Request) { r.ShippingAddress = nil }, apperr.CodeMissingAddress},
		{"blank address", func(r *checkout.Request) { r.ShippingAddress = &checkout.Address{} }, apperr.CodeMissingAddress},
		{"no method", func(r *checkout.Request) { r.PaymentMethod = " " }, apperr.CodeMissingPayment},
		{"cash on delivery", func(r *checkout.Request) { r.PaymentMethod = "cod" }, apperr.CodeUnsupportedMethod},
		{"no details", func(r *checkout.Request) { r.Payment = nil }, apperr.CodeMissingDetails},
		{"forged signature", func(r *checkout.Request) {
			p := *r.Payment
			p.Signature = gateway.CheckoutSignature("wrong", p.ProviderOrderID, p.PaymentID)
			r.Payment = &p
		}, apperr.CodeSignatureMismatch},
		{"unknown coupon", func(r *checkout.Request) { r.CouponCode = "FREE" }, apperr.CodeInvalidCoupon},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := h.co.ProcessCheckout(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			assert.True(t, apperr.IsClient(err))
		})
	}
	assert.Equal(t, 0, h.gw.Captures())
	assert.Equal(t, 0, h.st.OrderCount())
	assert.Empty(t, h.st.AllTransactions())
	assert.Equal(t, 10, h.available(t, "A"))
}

func TestInsufficientStockRejectedBeforePayment(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("C", 2, "10"), item("C", 2, "10"))
	_, err := h.co.CreatePaymentOrder(context.Background(), "u1", "", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))

	h.carts.put("u2", "0", item("C", 3, "10"))
	req := h.pay(t, "u2", "", "")
	h.carts.put("u2", "0", item("C", 4, "10"))
	_, err = h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	assert.Equal(t, 0, h.gw.Captures())
	assert.Empty(t, h.gw.Refunds())
}

func TestDeclinedCaptureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("A", 1, "100"))
	req := h.pay(t, "u1", "", "k-decl")
	h.gw.CaptureErr = errors.Mark(errors.New("card declined"), gateway.ErrDeclined)

	_, err := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindDeclined, apperr.KindOf(err))
	assert.Equal(t, apperr.CodePaymentDeclined, apperr.CodeOf(err))
	assert.Equal(t, 0, h.st.OrderCount())
	assert.Equal(t, 10, h.available(t, "A"))

	txns := h.st.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, payments.StatusFailed, txns[0].Status)
	assert.NotNil(t, txns[0].NextRetryAt)
	assert.NotNil(t, txns[0].FailedAt)
	assert.Empty(t, h.gw.Refunds())
}

func TestDeclineIsReplayedUnderTheSameKey(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("A", 1, "100"))
	req := h.pay(t, "u1", "", "k-decl-replay")
	h.gw.CaptureErr = errors.Mark(errors.New("card declined"), gateway.ErrDeclined)

	_, err := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.CodePaymentDeclined, apperr.CodeOf(err))

	h.gw.CaptureErr = nil
	o, again := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, again)
	assert.Nil(t, o)
	assert.Equal(t, apperr.KindDeclined, apperr.KindOf(again))
	assert.Equal(t, apperr.CodePaymentDeclined, apperr.CodeOf(again))
	assert.Equal(t, 0, h.gw.Captures())
	assert.Equal(t, 0, h.st.OrderCount())
	assert.Equal(t, 10, h.available(t, "A"))
}

func TestCaptureResponseMustReportCaptured(t *testing.T) {
	cases := []struct {
		status  string
		code    string
		outcome payments.Status
	}{
		{"failed", apperr.CodePaymentDeclined, payments.StatusFailed},
		{"refunded", apperr.CodePaymentDeclined, payments.StatusFailed},
		{"authorized", apperr.CodePaymentPending, payments.StatusPending},
		{"on_hold", apperr.CodePaymentPending, payments.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			h := newHarness(t)
			h.carts.put("u1", "0.18", item("A", 2, "100"))
			req := h.pay(t, "u1", "", "")
			h.gw.CaptureStatus = tc.status

			o, err := h.co.ProcessCheckout(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, o)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			assert.Equal(t, 0, h.st.OrderCount())
			assert.Equal(t, 10, h.available(t, "A"))
			assert.Empty(t, h.successful())
			assert.Empty(t, h.gw.Refunds())

			txns := h.st.AllTransactions()
			require.Len(t, txns, 1)
			assert.Equal(t, tc.outcome, txns[0].Status)
			assert.Contains(t, txns[0].LastError, tc.status)
		})
	}
}

func TestUnknownCaptureOutcomeLeftForSync(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("A", 1, "100"))
	req := h.pay(t, "u1", "", "k-unknown")
	h.gw.CaptureErr = errors.Mark(errors.New("read timeout"), gateway.ErrOutcomeUnknown)

	_, err := h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.CodePaymentPending, apperr.CodeOf(err))
	assert.Equal(t, 0, h.st.OrderCount())
	assert.Empty(t, h.gw.Refunds())

	txns := h.st.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, payments.StatusPending, txns[0].Status)
	assert.Contains(t, txns[0].LastError, "read timeout")

	// not recorded: a retry with the same key goes through and reuses the attempt
	h.gw.CaptureErr = nil
	o, err := h.co.ProcessCheckout(context.Background(), req)
	require.NoError(t, err)
	txns = h.st.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, payments.StatusSuccess, txns[0].Status)
	assert.Equal(t, o.ID, txns[0].OrderID)
}

func TestPaymentCannotPayTwice(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("A", 1, "100"))
	req := h.pay(t, "u1", "", "")
	_, err := h.co.ProcessCheckout(context.Background(), req)
	require.NoError(t, err)

	h.carts.put("u1", "0", item("A", 1, "100"))
	_, err = h.co.ProcessCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.CodePaymentUsed, apperr.CodeOf(err))
	assert.Equal(t, 1, h.st.OrderCount())
	assert.Equal(t, 1, h.gw.Captures())
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	h := newHarness(t)
	var reqs []checkout.Request
	for _, u := range []string{"u1", "u2", "u3"} {
		h.carts.put(u, "0", item("C", 2, "10"))
		reqs = append(reqs, h.pay(t, u, "", ""))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(reqs))
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.co.ProcessCheckout(context.Background(), reqs[i])
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, h.st.OrderCount())
	assert.Equal(t, 1, h.available(t, "C"))
	assert.Len(t, h.successful(), 1)
	assert.Equal(t, h.gw.Captures()-1, len(h.gw.Refunds()))
}

func TestSummaryHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0.18", item("A", 2, "100"))

	sum, err := h.co.Summary(context.Background(), "u1", "SAVE10")
	require.NoError(t, err)
	assert.True(t, sum.Subtotal.Equal(dec("200")))
	assert.True(t, sum.CouponDiscount.Equal(dec("20")))
	assert.True(t, sum.Total.Equal(dec("216")))
	assert.Equal(t, "INR", sum.Currency)

	assert.Equal(t, 0, h.st.OrderCount())
	assert.Empty(t, h.events.Messages())
	assert.Empty(t, h.coupons.redeemed)
	assert.Equal(t, 10, h.available(t, "A"))
}

func TestPaymentOrderReceiptIsIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.carts.put("u1", "0", item("A", 1, "100"))
	a, err := h.co.CreatePaymentOrder(context.Background(), "u1", "", "k-po")
	require.NoError(t, err)
	b, err := h.co.CreatePaymentOrder(context.Background(), "u1", "", "k-po")
	require.NoError(t, err)
	assert.Equal(t, "u1:k-po", a.Receipt)
	assert.Equal(t, a.ProviderOrderID, b.ProviderOrderID)
	assert.True(t, a.Amount.Equal(dec("100")))

	h.carts.put("u2", "0", item("B", 2, "15"))
	other, err := h.co.CreatePaymentOrder(context.Background(), "u2", "", "k-po")
	require.NoError(t, err)
	assert.NotEqual(t, a.ProviderOrderID, other.ProviderOrderID)
	assert.True(t, other.Amount.Equal(dec("30")))
}
