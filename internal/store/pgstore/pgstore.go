package pgstore

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/stock"
	"github.com/ariefcatur/go-checkout-saga/internal/store"
	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wires the Postgres repositories over one pool.
type Store struct{ Pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{Pool: pool} }

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	return &pgTx{tx: tx}, nil
}

func (s *Store) Orders() orders.Repository         { return orders.NewRepo(s.Pool) }
func (s *Store) Transactions() payments.Repository { return payments.NewRepo(s.Pool) }

// Stock returns a ledger whose mutations each run in their own retried
// transaction, so the counter update and its movement row commit together.
func (s *Store) Stock() stock.Ledger { return &txLedger{pool: s.Pool} }

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Orders() orders.Repository { return orders.NewRepo(t.tx) }
func (t *pgTx) Stock() stock.Ledger       { return stock.NewPGLedger(t.tx) }

func (t *pgTx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "commit")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type txLedger struct{ pool *pgxpool.Pool }

func (l *txLedger) Get(ctx context.Context, sku string) (*stock.Record, error) {
	return stock.NewPGLedger(l.pool).Get(ctx, sku)
}

func (l *txLedger) Reserve(ctx context.Context, sku string, qty int, orderRef string) (*stock.Record, error) {
	return l.run(ctx, func(led *stock.PGLedger) (*stock.Record, error) { return led.Reserve(ctx, sku, qty, orderRef) })
}

func (l *txLedger) Unreserve(ctx context.Context, sku string, qty int, orderRef string) (*stock.Record, error) {
	return l.run(ctx, func(led *stock.PGLedger) (*stock.Record, error) { return led.Unreserve(ctx, sku, qty, orderRef) })
}

func (l *txLedger) Decrement(ctx context.Context, sku string, qty int, reference string) (*stock.Record, error) {
	return l.run(ctx, func(led *stock.PGLedger) (*stock.Record, error) { return led.Decrement(ctx, sku, qty, reference) })
}

func (l *txLedger) Adjust(ctx context.Context, sku string, delta int, reference, notes string) (*stock.Record, error) {
	return l.run(ctx, func(led *stock.PGLedger) (*stock.Record, error) {
		return led.Adjust(ctx, sku, delta, reference, notes)
	})
}

func (l *txLedger) run(ctx context.Context, fn func(*stock.PGLedger) (*stock.Record, error)) (*stock.Record, error) {
	var out *stock.Record
	err := crdbpgx.ExecuteTx(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := fn(stock.NewPGLedger(tx))
		out = r
		return err
	})
	return out, err
}
