package stock

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/cockroachdb/errors"
	"strconv"
)

var (
	ErrNotFound          = errors.New("stock record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

// Reader exposes point lookups; used for read-only availability checks.
type Reader interface {
	Get(ctx context.Context, sku string) (*Record, error)
}

// Ledger mutates per-SKU counters. Every mutation appends a movement and
// recomputes Available. Reserve and Decrement never clamp: they fail with
// ErrInsufficientStock and leave the record untouched.
type Ledger interface {
	Reader
	Reserve(ctx context.Context, sku string, qty int, orderRef string) (*Record, error)
	Unreserve(ctx context.Context, sku string, qty int, orderRef string) (*Record, error)
	Decrement(ctx context.Context, sku string, qty int, reference string) (*Record, error)
	Adjust(ctx context.Context, sku string, delta int, reference, notes string) (*Record, error)
}

func insufficient(sku string, requested, available int) error {
	return errors.Mark(
		apperr.Conflict(apperr.CodeInsufficientStock,
			"insufficient stock for "+sku+": requested "+strconv.Itoa(requested)+", available "+strconv.Itoa(available)),
		ErrInsufficientStock,
	)
}

func invalidQty(op string, qty int) error {
	return errors.Mark(
		apperr.Invalid(apperr.CodeInvalidQuantity, op+": quantity must be positive, got "+strconv.Itoa(qty)),
		ErrInvalidQuantity,
	)
}

// CheckAvailable is a read-only availability check. It does not hold the
// stock; a later Decrement can still fail.
func CheckAvailable(ctx context.Context, r Reader, sku string, qty int) error {
	if qty <= 0 {
		return invalidQty("check", qty)
	}
	rec, err := r.Get(ctx, sku)
	if errors.Is(err, ErrNotFound) {
		return insufficient(sku, qty, 0)
	}
	if err != nil {
		return errors.Wrapf(err, "stock lookup %s", sku)
	}
	if rec.Available < qty {
		return insufficient(sku, qty, rec.Available)
	}
	return nil
}
