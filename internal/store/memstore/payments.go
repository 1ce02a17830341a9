package memstore

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/cockroachdb/errors"
	"sort"
)

type txnRepo struct{ s *Store }

func (r *txnRepo) Create(ctx context.Context, t *payments.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.txns[t.ID]; ok {
		return errors.Newf("transaction %s already exists", t.ID)
	}
	if t.Status == payments.StatusSuccess {
		for _, other := range r.s.txns {
			if other.OrderID == t.OrderID && other.Status == payments.StatusSuccess && !other.Deleted {
				return errors.Newf("order %s already has a successful transaction", t.OrderID)
			}
		}
	}
	r.s.txns[t.ID] = t.Clone()
	return nil
}

func (r *txnRepo) Get(ctx context.Context, id string) (*payments.Transaction, error) {
	return r.find(func(t *payments.Transaction) bool { return t.ID == id || t.PublicID == id })
}

func (r *txnRepo) GetByProviderPaymentID(ctx context.Context, paymentID string) (*payments.Transaction, error) {
	return r.find(func(t *payments.Transaction) bool { return paymentID != "" && t.ProviderPaymentID == paymentID })
}

func (r *txnRepo) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*payments.Transaction, error) {
	return r.find(func(t *payments.Transaction) bool { return gatewayOrderID != "" && t.GatewayOrderID == gatewayOrderID })
}

func (r *txnRepo) find(match func(*payments.Transaction) bool) (*payments.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *payments.Transaction
	for _, t := range r.s.txns {
		if t.Deleted || !match(t) {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) {
			found = t
		}
	}
	if found == nil {
		return nil, payments.ErrNotFound
	}
	return found.Clone(), nil
}

func (r *txnRepo) ListByOrder(ctx context.Context, orderID string) ([]*payments.Transaction, error) {
	return r.list(func(t *payments.Transaction) bool { return !t.Deleted && t.OrderID == orderID }, 0), nil
}

func (r *txnRepo) List(ctx context.Context, f payments.ListFilter) ([]*payments.Transaction, error) {
	return r.list(f.Match, f.Limit), nil
}

func (r *txnRepo) list(match func(*payments.Transaction) bool, limit int) []*payments.Transaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*payments.Transaction
	for _, t := range r.s.txns {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *txnRepo) Update(ctx context.Context, t *payments.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.txns[t.ID]
	if !ok {
		return payments.ErrNotFound
	}
	if cur.Version != t.Version {
		return payments.ErrVersionConflict
	}
	if t.Status == payments.StatusSuccess && !t.Deleted {
		for id, other := range r.s.txns {
			if id != t.ID && other.OrderID == t.OrderID && other.Status == payments.StatusSuccess && !other.Deleted {
				return errors.Newf("order %s already has a successful transaction", t.OrderID)
			}
		}
	}
	t.Version++
	t.UpdatedAt = r.s.now().UTC()
	r.s.txns[t.ID] = t.Clone()
	return nil
}
