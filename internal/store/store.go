// Package store defines the unit of work the checkout saga runs in.
//
// A Tx covers the order record and stock counters of one checkout: either
// every write inside it commits or none does. Payment transactions are not
// part of the unit of work; they are independently durable so that a
// captured payment stays on record even when the order write is aborted.
package store

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
)

type Tx interface {
	Orders() orders.Repository
	Stock() stock.Ledger
	Commit(ctx context.Context) error
	// Rollback is safe to call after Commit; it is then a no-op.
	Rollback(ctx context.Context) error
}

type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// Store is the whole storage port: the unit of work plus repositories used
// outside of one.
type Store interface {
	UnitOfWork
	Orders() orders.Repository
	Stock() stock.Ledger
	Transactions() payments.Repository
}
