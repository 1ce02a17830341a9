package inventory

import (
	"context"
	"encoding/json"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/ariefcatur/go-checkout-saga/internal/store/memstore"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.SeedStock(stock.NewRecord("A", 5, 0), stock.NewRecord("B", 1, 0))
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Service{
		Stock:       st.Stock(),
		Redis:       rdb,
		Metrics:     metrics.New("test"),
		Logger:      logging.Discard(),
		ServiceName: "inventory",
	}, st
}

func statusMessage(t *testing.T, p orders.OrderStatusChangedPayload) kafkago.Message {
	t.Helper()
	env, err := orders.NewEnvelope(orders.EventOrderStatusChanged, "api", p.OrderID, "", p)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Topic: orders.TopicOrderStatusChanged, Value: b}
}

func available(t *testing.T, st *memstore.Store, sku string) int {
	t.Helper()
	r, err := st.Stock().Get(context.Background(), sku)
	require.NoError(t, err)
	return r.Available
}

func TestCancelledOrderIsRestockedOnce(t *testing.T) {
	svc, st := newService(t)
	msg := statusMessage(t, orders.OrderStatusChangedPayload{
		OrderID:     "o1",
		OrderNumber: "ORD-1",
		From:        orders.StatusConfirmed,
		To:          orders.StatusCancelled,
		Items:       []orders.ItemQty{{SKU: "A", Qty: 2}, {SKU: "B", Qty: 1}},
	})

	require.NoError(t, svc.HandleStatusChanged(context.Background(), msg))
	require.NoError(t, svc.HandleStatusChanged(context.Background(), msg))

	assert.Equal(t, 7, available(t, st, "A"))
	assert.Equal(t, 2, available(t, st, "B"))

	r, err := st.Stock().Get(context.Background(), "A")
	require.NoError(t, err)
	last := r.Movements[len(r.Movements)-1]
	assert.Equal(t, stock.MovementAdjust, last.Type)
	assert.Equal(t, "order:ORD-1:restock", last.Reference)
}

func TestTransitionsThatKeepStock(t *testing.T) {
	cases := []struct {
		from, to orders.Status
		want     bool
	}{
		{orders.StatusPending, orders.StatusCancelled, false},
		{orders.StatusConfirmed, orders.StatusCancelled, true},
		{orders.StatusShipped, orders.StatusReturned, true},
		{orders.StatusDelivered, orders.StatusReturned, true},
		{orders.StatusConfirmed, orders.StatusProcessing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NeedsRestock(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestUnknownSKUAndOtherEventsAreSkipped(t *testing.T) {
	svc, st := newService(t)
	require.NoError(t, svc.Restock(context.Background(), orders.OrderStatusChangedPayload{
		OrderID:     "o2",
		OrderNumber: "ORD-2",
		From:        orders.StatusProcessing,
		To:          orders.StatusCancelled,
		Items:       []orders.ItemQty{{SKU: "GONE", Qty: 1}, {SKU: "A", Qty: 1}},
	}))
	assert.Equal(t, 6, available(t, st, "A"))

	env, err := orders.NewEnvelope(orders.EventOrderCreated, "api", "o3", "", map[string]string{})
	require.NoError(t, err)
	b, _ := json.Marshal(env)
	assert.NoError(t, svc.HandleStatusChanged(context.Background(), kafkago.Message{Value: b}))
	assert.NoError(t, svc.HandleStatusChanged(context.Background(), kafkago.Message{Value: []byte("{")}))
	assert.Equal(t, 6, available(t, st, "A"))
}
