package reconcile

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway/gatewaytest"
	"github.com/ariefcatur/go-checkout-saga/internal/kafka/kafkatest"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/store/memstore"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store  *memstore.Store
	fake   *gatewaytest.Fake
	events *kafkatest.Recorder
	jobs   *Jobs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	st.SetClock(func() time.Time { return clock })
	fake := gatewaytest.New()
	rec := &kafkatest.Recorder{}
	return &harness{
		store:  st,
		fake:   fake,
		events: rec,
		jobs: &Jobs{
			Transactions: st.Transactions(),
			Orders:       st.Orders(),
			Gateway:      fake,
			Events:       rec,
			Metrics:      metrics.New("test"),
			Logger:       logging.Discard(),
			Retry:        payments.RetryPolicy{MaxRetries: 3, Base: 2, Unit: time.Minute, MaxDelay: time.Hour},
			SyncMinAge:   5 * time.Minute,
			Lookback:     24 * time.Hour,
			Service:      "reconciler",
			Now:          func() time.Time { return clock },
		},
	}
}

func (h *harness) order(t *testing.T, total string) *orders.Order {
	t.Helper()
	amt := decimal.RequireFromString(total)
	o := orders.New(orders.NewOrderInput{
		UserID:        "u1",
		Items:         []orders.LineItem{{ProductID: "p1", SKU: "SKU-1", Qty: 1, UnitPrice: amt, Total: amt}},
		Currency:      "INR",
		PaymentMethod: "card",
		Totals:        orders.Totals{Subtotal: amt, Total: amt},
	}, clock.Add(-time.Hour))
	require.NoError(t, h.store.Orders().Create(context.Background(), o))
	return o
}

// txn stores a transaction last touched age ago and registers the provider
// view of its payment.
func (h *harness) txn(t *testing.T, orderID string, local payments.Status, amount string, age time.Duration, remote string, remoteAmount string) *payments.Transaction {
	t.Helper()
	at := clock.Add(-age)
	txn := payments.NewTransaction(orderID, "u1", "card", "INR", decimal.RequireFromString(amount), at)
	txn.Status = local
	txn.ProviderPaymentID = "pay_" + txn.ID[:8]
	txn.GatewayOrderID = "order_" + txn.ID[:8]
	if local == payments.StatusSuccess {
		txn.PaidAt = &at
	}
	require.NoError(t, h.store.Transactions().Create(context.Background(), txn))
	if remote != "" {
		h.fake.SetPayment(gateway.ProviderPayment{
			ID:       txn.ProviderPaymentID,
			OrderID:  txn.GatewayOrderID,
			Status:   remote,
			Amount:   decimal.RequireFromString(remoteAmount),
			Currency: "INR",
			Captured: remote == "captured",
		})
	}
	return txn
}

func (h *harness) reload(t *testing.T, id string) *payments.Transaction {
	t.Helper()
	txn, err := h.store.Transactions().Get(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func TestSyncResolvesUnknownCapture(t *testing.T) {
	h := newHarness(t)
	o := h.order(t, "236.00")
	txn := h.txn(t, o.ID, payments.StatusPending, "236.00", 10*time.Minute, "captured", "236.00")
	fresh := h.txn(t, o.ID, payments.StatusPending, "236.00", time.Minute, "captured", "236.00")

	rep, err := h.jobs.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Updated)
	assert.Zero(t, rep.Flagged)

	got := h.reload(t, txn.ID)
	assert.Equal(t, payments.StatusSuccess, got.Status)
	assert.NotNil(t, got.PaidAt)
	assert.False(t, got.FlaggedForReview)
	assert.Equal(t, payments.StatusPending, h.reload(t, fresh.ID).Status)

	ord, err := h.store.Orders().Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, ord.Payment.Status)
	assert.Equal(t, txn.ProviderPaymentID, ord.Payment.ProviderPaymentID)

	audit := h.events.ByTopic(orders.TopicPaymentAudit)
	require.Len(t, audit, 1)
	p, err := orders.UnwrapPayload[orders.PaymentStatusChangedPayload](audit[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, "pending", p.From)
	assert.Equal(t, "success", p.To)
	assert.Equal(t, JobSync, p.Source)
}

func TestSyncFlagsOrphanCapture(t *testing.T) {
	h := newHarness(t)
	txn := h.txn(t, "rolled-back-order", payments.StatusPending, "50.00", time.Hour, "captured", "50.00")

	rep, err := h.jobs.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Flagged)

	got := h.reload(t, txn.ID)
	assert.Equal(t, payments.StatusSuccess, got.Status)
	assert.True(t, got.FlaggedForReview)
	assert.Equal(t, reasonOrphanCapture, got.ReviewReason)
	assert.Empty(t, h.fake.Refunds())
}

func TestSyncMovesAuthorizedToProcessingAndFailedToFailed(t *testing.T) {
	h := newHarness(t)
	authorized := h.txn(t, "o1", payments.StatusPending, "10.00", time.Hour, "authorized", "10.00")
	failed := h.txn(t, "o2", payments.StatusProcessing, "10.00", time.Hour, "failed", "10.00")

	rep, err := h.jobs.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Updated)

	assert.Equal(t, payments.StatusProcessing, h.reload(t, authorized.ID).Status)
	got := h.reload(t, failed.ID)
	assert.Equal(t, payments.StatusFailed, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, clock.Add(time.Minute), *got.NextRetryAt)
}

func TestReconcileFlagsAmountMismatch(t *testing.T) {
	h := newHarness(t)
	txn := h.txn(t, "o1", payments.StatusPending, "236.00", time.Hour, "captured", "200.00")

	rep, err := h.jobs.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Flagged)
	assert.Zero(t, rep.Updated)

	got := h.reload(t, txn.ID)
	assert.Equal(t, payments.StatusPending, got.Status)
	assert.True(t, got.FlaggedForReview)
	assert.Equal(t, reasonAmountMismatch, got.ReviewReason)

	// Flagged records are left alone afterwards.
	rep, err = h.jobs.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
}

func TestReconcileNeverDowngradesSuccess(t *testing.T) {
	h := newHarness(t)
	txn := h.txn(t, "o1", payments.StatusSuccess, "99.00", time.Hour, "failed", "99.00")

	rep, err := h.jobs.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Flagged)

	got := h.reload(t, txn.ID)
	assert.Equal(t, payments.StatusSuccess, got.Status)
	assert.True(t, got.FlaggedForReview)
}

func TestReconcileRecordsProviderRefund(t *testing.T) {
	h := newHarness(t)
	txn := h.txn(t, "o1", payments.StatusSuccess, "80.00", time.Hour, "refunded", "80.00")
	require.NoError(t, txn.AddRefund(payments.Refund{Amount: decimal.NewFromInt(30), Reason: "partial"}))
	require.NoError(t, h.store.Transactions().Update(context.Background(), txn))

	_, err := h.jobs.Reconcile(context.Background())
	require.NoError(t, err)

	got := h.reload(t, txn.ID)
	assert.Equal(t, payments.StatusRefunded, got.Status)
	assert.True(t, got.RefundedAmount().Equal(got.Amount))
	require.Len(t, got.Refunds, 2)
	assert.True(t, got.Refunds[1].Amount.Equal(decimal.NewFromInt(50)))
}

func TestReconcileIgnoresRecordsOutsideLookback(t *testing.T) {
	h := newHarness(t)
	h.txn(t, "o1", payments.StatusPending, "10.00", 48*time.Hour, "captured", "10.00")

	rep, err := h.jobs.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
}

func TestRetryFailedCapturedBecomesSuccess(t *testing.T) {
	h := newHarness(t)
	txn := h.txn(t, "o1", payments.StatusFailed, "120.00", time.Hour, "captured", "120.00")
	due := clock.Add(-time.Minute)
	txn.RetryCount = 1
	txn.NextRetryAt = &due
	require.NoError(t, h.store.Transactions().Update(context.Background(), txn))

	rep, err := h.jobs.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)

	got := h.reload(t, txn.ID)
	assert.Equal(t, payments.StatusSuccess, got.Status)
	assert.Nil(t, got.NextRetryAt)
	assert.Empty(t, got.LastError)
}

func TestRetryFailedSchedulesAndExhausts(t *testing.T) {
	h := newHarness(t)
	due := clock.Add(-time.Second)

	again := h.txn(t, "o1", payments.StatusFailed, "10.00", time.Hour, "failed", "10.00")
	again.RetryCount = 0
	again.NextRetryAt = &due
	require.NoError(t, h.store.Transactions().Update(context.Background(), again))

	last := h.txn(t, "o2", payments.StatusFailed, "10.00", time.Hour, "failed", "10.00")
	last.RetryCount = 2
	last.NextRetryAt = &due
	require.NoError(t, h.store.Transactions().Update(context.Background(), last))

	notDue := h.txn(t, "o3", payments.StatusFailed, "10.00", time.Hour, "failed", "10.00")
	later := clock.Add(time.Hour)
	notDue.NextRetryAt = &later
	require.NoError(t, h.store.Transactions().Update(context.Background(), notDue))

	rep, err := h.jobs.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Exhausted)

	got := h.reload(t, again.ID)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, clock.Add(2*time.Minute), *got.NextRetryAt)

	got = h.reload(t, last.ID)
	assert.Equal(t, 3, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
	assert.Contains(t, got.LastError, "retries exhausted")

	// Exhausted records drop out of later runs.
	rep, err = h.jobs.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
}

func TestOneBadRecordDoesNotStopTheBatch(t *testing.T) {
	h := newHarness(t)
	bad := h.txn(t, "o1", payments.StatusPending, "10.00", 2*time.Hour, "captured", "10.00")
	good := h.txn(t, "o2", payments.StatusPending, "10.00", time.Hour, "captured", "10.00")
	h.fake.DetailsErr[bad.ProviderPaymentID] = errors.Mark(errors.New("upstream 503"), gateway.ErrOutcomeUnknown)

	rep, err := h.jobs.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Updated)

	assert.Equal(t, payments.StatusPending, h.reload(t, bad.ID).Status)
	assert.Equal(t, payments.StatusSuccess, h.reload(t, good.ID).Status)
}

func TestRunUnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.jobs.Run(context.Background(), "nope")
	assert.Error(t, err)

	rep, err := h.jobs.Run(context.Background(), JobRetryFailed)
	require.NoError(t, err)
	assert.Equal(t, JobRetryFailed, rep.Job)
}
