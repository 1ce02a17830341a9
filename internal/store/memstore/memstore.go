// Package memstore is an in-process implementation of the order, stock and
// payment stores. A unit of work applies writes immediately under one mutex
// and keeps an undo log that Rollback replays in reverse, which gives the
// same all-or-nothing outcome as the Postgres store for a single process.
package memstore

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/ariefcatur/go-checkout-saga/internal/store"
	"github.com/cockroachdb/errors"
	"sort"
	"sync"
	"time"
)

var ErrTxDone = errors.New("transaction already committed or rolled back")

type Store struct {
	mu       sync.Mutex
	orders   map[string]*orders.Order
	orderKey map[string]string // public id / number -> id
	stock    map[string]*stock.Record
	txns     map[string]*payments.Transaction
	now      func() time.Time
}

func New() *Store {
	return &Store{
		orders:   map[string]*orders.Order{},
		orderKey: map[string]string{},
		stock:    map[string]*stock.Record{},
		txns:     map[string]*payments.Transaction{},
		now:      time.Now,
	}
}

// SetClock overrides the clock used for UpdatedAt stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{s: s}, nil
}

func (s *Store) Orders() orders.Repository         { return &orderRepo{s: s} }
func (s *Store) Stock() stock.Ledger               { return &ledger{s: s} }
func (s *Store) Transactions() payments.Repository { return &txnRepo{s: s} }

func (s *Store) SeedStock(recs ...*stock.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.stock[r.SKU] = r.Clone()
	}
}

// OrderCount returns the number of committed-or-in-flight orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// AllTransactions returns copies of every transaction, oldest first.
func (s *Store) AllTransactions() []*payments.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*payments.Transaction, 0, len(s.txns))
	for _, t := range s.txns {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type tx struct {
	s    *Store
	undo []func()
	done bool
}

func (t *tx) Orders() orders.Repository { return &orderRepo{s: t.s, tx: t} }
func (t *tx) Stock() stock.Ledger       { return &ledger{s: t.s, tx: t} }

func (t *tx) Commit(ctx context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.undo = nil
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return nil
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.done = true
	return nil
}

// record must be called with s.mu held.
func (t *tx) record(fn func()) error {
	if t == nil {
		return nil
	}
	if t.done {
		return ErrTxDone
	}
	t.undo = append(t.undo, fn)
	return nil
}

func (t *tx) check() error {
	if t != nil && t.done {
		return ErrTxDone
	}
	return nil
}
