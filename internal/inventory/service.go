// Package inventory returns stock for orders that are cancelled or returned
// after their stock was committed.
package inventory

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"log/slog"
)

type Service struct {
	Stock       stock.Ledger
	Redis       redis.Cmdable
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	ServiceName string
}

// HandleStatusChanged is the order.status.changed consumer handler. Each
// line is deduplicated on its own so a redelivery after a partial failure
// only restocks what is still missing.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m)
	if err != nil {
		s.Logger.ErrorContext(ctx, "drop malformed message", slog.String("error", err.Error()))
		return nil
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil
	}
	p, err := orders.UnwrapPayload[orders.OrderStatusChangedPayload](env)
	if err != nil {
		s.Logger.ErrorContext(ctx, "drop malformed status change",
			slog.String("event_id", env.EventID), slog.String("error", err.Error()))
		return nil
	}
	return s.Restock(ctx, p)
}

// NeedsRestock reports whether a transition gives stock back.
func NeedsRestock(from, to orders.Status) bool {
	return (to == orders.StatusCancelled || to == orders.StatusReturned) && from.StockCommitted()
}

func (s *Service) Restock(ctx context.Context, p orders.OrderStatusChangedPayload) error {
	if !NeedsRestock(p.From, p.To) {
		return nil
	}
	ref := "order:" + p.OrderNumber + ":restock"
	units := 0
	for _, it := range p.Items {
		if it.Qty <= 0 {
			continue
		}
		key := redisx.DedupKey(s.ServiceName, p.OrderID+":restock:"+it.SKU)
		first, err := redisx.MarkOnce(ctx, s.Redis, key, redisx.TTLDedup)
		if err != nil {
			return errors.Wrap(err, "restock dedup")
		}
		if !first {
			continue
		}
		_, err = s.Stock.Adjust(ctx, it.SKU, it.Qty, ref, "order "+string(p.To))
		if errors.Is(err, stock.ErrNotFound) {
			s.Logger.WarnContext(ctx, "restock skipped, sku unknown",
				slog.String("order_id", p.OrderID), slog.String("sku", it.SKU))
			continue
		}
		if err != nil {
			if ferr := redisx.Forget(ctx, s.Redis, key); ferr != nil {
				err = errors.WithSecondaryError(err, ferr)
			}
			return errors.Wrapf(err, "restock %s", it.SKU)
		}
		units += it.Qty
	}
	if units > 0 {
		s.Metrics.Restocked(units)
		s.Logger.InfoContext(ctx, "order restocked",
			slog.String("order_id", p.OrderID),
			slog.String("order_number", p.OrderNumber),
			slog.String("status", string(p.To)),
			slog.Int("units", units))
	}
	return nil
}
