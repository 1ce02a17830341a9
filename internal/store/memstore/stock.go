package memstore

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/cockroachdb/errors"
)

type ledger struct {
	s  *Store
	tx *tx
}

func (l *ledger) Get(ctx context.Context, sku string) (*stock.Record, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	r, ok := l.s.stock[sku]
	if !ok || r.Deleted {
		return nil, errors.Wrapf(stock.ErrNotFound, "sku %s", sku)
	}
	return r.Clone(), nil
}

func (l *ledger) Reserve(ctx context.Context, sku string, qty int, orderRef string) (*stock.Record, error) {
	return l.mutate(sku, func(r *stock.Record) error { return r.Reserve(qty, orderRef, l.s.now()) })
}

func (l *ledger) Unreserve(ctx context.Context, sku string, qty int, orderRef string) (*stock.Record, error) {
	return l.mutate(sku, func(r *stock.Record) error { return r.Unreserve(qty, orderRef, l.s.now()) })
}

func (l *ledger) Decrement(ctx context.Context, sku string, qty int, reference string) (*stock.Record, error) {
	return l.mutate(sku, func(r *stock.Record) error { return r.Decrement(qty, reference, l.s.now()) })
}

func (l *ledger) Adjust(ctx context.Context, sku string, delta int, reference, notes string) (*stock.Record, error) {
	return l.mutate(sku, func(r *stock.Record) error { return r.Adjust(delta, reference, notes, l.s.now()) })
}

// mutate applies fn to a copy and swaps it in only on success, so a failed
// mutation never leaves a partial change behind. Undo reverts the delta
// rather than restoring the old copy, which keeps concurrent writers intact.
func (l *ledger) mutate(sku string, fn func(*stock.Record) error) (*stock.Record, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.tx.check(); err != nil {
		return nil, err
	}
	cur, ok := l.s.stock[sku]
	if !ok || cur.Deleted {
		return nil, errors.Wrapf(stock.ErrNotFound, "sku %s", sku)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	l.s.stock[sku] = next
	dq, dr := next.Quantity-cur.Quantity, next.Reserved-cur.Reserved
	mv := next.Movements[len(next.Movements)-1]
	if err := l.tx.record(func() {
		r := l.s.stock[sku].Clone()
		r.Revert(dq, dr, mv)
		l.s.stock[sku] = r
	}); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}
