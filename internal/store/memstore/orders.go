package memstore

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
)

type orderRepo struct {
	s  *Store
	tx *tx
}

func (r *orderRepo) Create(ctx context.Context, o *orders.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.tx.check(); err != nil {
		return err
	}
	if _, ok := r.s.orders[o.ID]; ok {
		return orders.ErrDuplicate
	}
	if _, ok := r.s.orderKey[o.Number]; ok {
		return orders.ErrDuplicate
	}
	if _, ok := r.s.orderKey[o.PublicID]; ok {
		return orders.ErrDuplicate
	}
	r.s.orders[o.ID] = o.Clone()
	r.s.orderKey[o.Number] = o.ID
	r.s.orderKey[o.PublicID] = o.ID
	id, number, publicID := o.ID, o.Number, o.PublicID
	return r.tx.record(func() {
		delete(r.s.orders, id)
		delete(r.s.orderKey, number)
		delete(r.s.orderKey, publicID)
	})
}

func (r *orderRepo) Get(ctx context.Context, id string) (*orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.lookup(id)
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *orderRepo) GetByNumber(ctx context.Context, number string) (*orders.Order, error) {
	return r.Get(ctx, number)
}

func (r *orderRepo) lookup(key string) (*orders.Order, bool) {
	if o, ok := r.s.orders[key]; ok && !o.Deleted {
		return o, true
	}
	if id, ok := r.s.orderKey[key]; ok {
		if o, ok := r.s.orders[id]; ok && !o.Deleted {
			return o, true
		}
	}
	return nil, false
}

func (r *orderRepo) UpdatePayment(ctx context.Context, id string, p orders.Payment, actor string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.tx.check(); err != nil {
		return err
	}
	o, ok := r.s.orders[id]
	if !ok || o.Deleted {
		return orders.ErrNotFound
	}
	prev := o.Clone()
	o.Payment = p
	if p.PaidAt != nil {
		t := *p.PaidAt
		o.Payment.PaidAt = &t
	}
	o.UpdatedBy = actor
	o.UpdatedAt = r.s.now().UTC()
	return r.tx.record(func() { r.s.orders[id] = prev })
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id string, from, to orders.Status, actor string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.tx.check(); err != nil {
		return err
	}
	o, ok := r.s.orders[id]
	if !ok || o.Deleted {
		return orders.ErrNotFound
	}
	if o.Status != from {
		return orders.ErrStatusConflict
	}
	prev := o.Clone()
	o.Status = to
	o.UpdatedBy = actor
	o.UpdatedAt = r.s.now().UTC()
	return r.tx.record(func() { r.s.orders[id] = prev })
}
