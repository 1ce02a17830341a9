package stock

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"time"
)

// PGLedger is the Postgres Ledger. Each mutation is a single conditional
// UPDATE, so two concurrent decrements against one SKU serialize on the row
// and can never both succeed past availability. Callers should run it
// inside a transaction so that the counter change and its movement row
// commit together.
type PGLedger struct{ DB postgres.DBTX }

func NewPGLedger(db postgres.DBTX) *PGLedger { return &PGLedger{DB: db} }

func (l *PGLedger) Get(ctx context.Context, sku string) (*Record, error) {
	var r Record
	err := l.DB.QueryRow(ctx, `
		SELECT sku, product_id, quantity, reserved, available, low_stock_threshold, deleted, updated_at
		FROM stock WHERE sku = $1 AND NOT deleted`, sku).
		Scan(&r.SKU, &r.ProductID, &r.Quantity, &r.Reserved, &r.Available, &r.LowStockThreshold, &r.Deleted, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "sku %s", sku)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select stock")
	}
	return &r, nil
}

// Movements returns the movement log for sku, oldest first.
func (l *PGLedger) Movements(ctx context.Context, sku string) ([]Movement, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT type, quantity, reference, notes, created_at FROM stock_movements WHERE sku = $1 ORDER BY id`, sku)
	if err != nil {
		return nil, errors.Wrap(err, "select stock movements")
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var (
			m  Movement
			mt string
		)
		if err := rows.Scan(&mt, &m.Quantity, &m.Reference, &m.Notes, &m.At); err != nil {
			return nil, err
		}
		m.Type = MovementType(mt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (l *PGLedger) Reserve(ctx context.Context, sku string, qty int, orderRef string) (*Record, error) {
	if qty <= 0 {
		return nil, invalidQty("reserve", qty)
	}
	return l.mutate(ctx, sku, qty, MovementReserve, orderRef, "", `
		UPDATE stock SET reserved = reserved + $2, available = quantity - reserved - $2, updated_at = $3
		WHERE sku = $1 AND NOT deleted AND quantity - reserved >= $2
		RETURNING sku, product_id, quantity, reserved, available, low_stock_threshold, updated_at`)
}

func (l *PGLedger) Unreserve(ctx context.Context, sku string, qty int, orderRef string) (*Record, error) {
	if qty <= 0 {
		return nil, invalidQty("unreserve", qty)
	}
	return l.mutate(ctx, sku, qty, MovementUnreserve, orderRef, "", `
		UPDATE stock SET reserved = reserved - $2, available = quantity - reserved + $2, updated_at = $3
		WHERE sku = $1 AND NOT deleted AND reserved >= $2
		RETURNING sku, product_id, quantity, reserved, available, low_stock_threshold, updated_at`)
}

func (l *PGLedger) Decrement(ctx context.Context, sku string, qty int, reference string) (*Record, error) {
	if qty <= 0 {
		return nil, invalidQty("decrement", qty)
	}
	return l.mutate(ctx, sku, qty, MovementDecrement, reference, "", `
		UPDATE stock SET quantity = quantity - $2, available = quantity - $2 - reserved, updated_at = $3
		WHERE sku = $1 AND NOT deleted AND quantity - reserved >= $2
		RETURNING sku, product_id, quantity, reserved, available, low_stock_threshold, updated_at`)
}

func (l *PGLedger) Adjust(ctx context.Context, sku string, delta int, reference, notes string) (*Record, error) {
	if delta == 0 {
		return nil, invalidQty("adjust", delta)
	}
	return l.mutate(ctx, sku, delta, MovementAdjust, reference, notes, `
		UPDATE stock SET quantity = quantity + $2, available = GREATEST(quantity + $2 - reserved, 0), updated_at = $3
		WHERE sku = $1 AND NOT deleted AND quantity + $2 >= reserved AND quantity + $2 >= 0
		RETURNING sku, product_id, quantity, reserved, available, low_stock_threshold, updated_at`)
}

func (l *PGLedger) mutate(ctx context.Context, sku string, qty int, mt MovementType, ref, notes, update string) (*Record, error) {
	now := time.Now().UTC()
	var r Record
	err := l.DB.QueryRow(ctx, update, sku, qty, now).
		Scan(&r.SKU, &r.ProductID, &r.Quantity, &r.Reserved, &r.Available, &r.LowStockThreshold, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, l.explain(ctx, sku, qty, mt)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s stock %s", mt, sku)
	}
	if _, err := l.DB.Exec(ctx, `
		INSERT INTO stock_movements(sku, type, quantity, reference, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, sku, string(mt), qty, ref, notes, now); err != nil {
		return nil, errors.Wrap(err, "insert stock movement")
	}
	r.Movements = []Movement{{Type: mt, Quantity: qty, Reference: ref, Notes: notes, At: now}}
	return &r, nil
}

// explain turns a no-row conditional update into the precise ledger error.
func (l *PGLedger) explain(ctx context.Context, sku string, qty int, mt MovementType) error {
	cur, err := l.Get(ctx, sku)
	if err != nil {
		return err
	}
	switch mt {
	case MovementReserve, MovementDecrement:
		return insufficient(sku, qty, cur.Available)
	case MovementUnreserve:
		return errors.Mark(errors.Newf("unreserve %d of %s: only %d reserved", qty, sku, cur.Reserved), ErrInvalidQuantity)
	default:
		return errors.Mark(errors.Newf("adjust %s by %d would leave quantity below reserved %d", sku, qty, cur.Reserved), ErrInvalidQuantity)
	}
}

// Seed inserts or replaces a stock record; used by tooling and tests.
func (l *PGLedger) Seed(ctx context.Context, r *Record) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO stock(sku, product_id, quantity, reserved, available, low_stock_threshold, updated_at)
		VALUES ($1,$2,$3,$4,GREATEST($3 - $4, 0),$5, now())
		ON CONFLICT (sku) DO UPDATE SET product_id = EXCLUDED.product_id, quantity = EXCLUDED.quantity,
			reserved = EXCLUDED.reserved, available = EXCLUDED.available,
			low_stock_threshold = EXCLUDED.low_stock_threshold, updated_at = now()`,
		r.SKU, r.ProductID, r.Quantity, r.Reserved, r.LowStockThreshold)
	return errors.Wrap(err, "seed stock")
}
