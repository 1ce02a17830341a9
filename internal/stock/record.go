package stock

import (
	"github.com/cockroachdb/errors"
	"time"
)

type MovementType string

const (
	MovementReserve   MovementType = "reserve"
	MovementUnreserve MovementType = "unreserve"
	MovementDecrement MovementType = "decrement"
	MovementAdjust    MovementType = "adjust"
)

type Movement struct {
	Type      MovementType `json:"type"`
	Quantity  int          `json:"quantity"`
	Reference string       `json:"reference"`
	Notes     string       `json:"notes,omitempty"`
	At        time.Time    `json:"at"`
}

type Record struct {
	SKU               string     `json:"sku"`
	ProductID         string     `json:"product_id,omitempty"`
	Quantity          int        `json:"quantity"`
	Reserved          int        `json:"reserved"`
	Available         int        `json:"available"`
	LowStockThreshold int        `json:"low_stock_threshold"`
	Movements         []Movement `json:"movements,omitempty"`
	Deleted           bool       `json:"-"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func available(quantity, reserved int) int {
	if a := quantity - reserved; a > 0 {
		return a
	}
	return 0
}

func (r *Record) recompute() { r.Available = available(r.Quantity, r.Reserved) }

func (r *Record) LowStock() bool { return r.Available <= r.LowStockThreshold }

func (r *Record) Clone() *Record {
	c := *r
	c.Movements = append([]Movement(nil), r.Movements...)
	return &c
}

// The mutators below implement the ledger rules for in-process stores; the
// Postgres ledger expresses the same rules as conditional UPDATEs.

func (r *Record) Reserve(qty int, ref string, now time.Time) error {
	if qty <= 0 {
		return invalidQty("reserve", qty)
	}
	if r.Available < qty {
		return insufficient(r.SKU, qty, r.Available)
	}
	r.Reserved += qty
	r.apply(MovementReserve, qty, ref, "", now)
	return nil
}

func (r *Record) Unreserve(qty int, ref string, now time.Time) error {
	if qty <= 0 {
		return invalidQty("unreserve", qty)
	}
	if qty > r.Reserved {
		return errors.Mark(errors.Newf("unreserve %d of %s: only %d reserved", qty, r.SKU, r.Reserved), ErrInvalidQuantity)
	}
	r.Reserved -= qty
	r.apply(MovementUnreserve, qty, ref, "", now)
	return nil
}

func (r *Record) Decrement(qty int, ref string, now time.Time) error {
	if qty <= 0 {
		return invalidQty("decrement", qty)
	}
	if r.Available < qty {
		return insufficient(r.SKU, qty, r.Available)
	}
	r.Quantity -= qty
	r.apply(MovementDecrement, qty, ref, "", now)
	return nil
}

func (r *Record) Adjust(delta int, ref, notes string, now time.Time) error {
	if delta == 0 {
		return invalidQty("adjust", delta)
	}
	next := r.Quantity + delta
	if next < 0 || next < r.Reserved {
		return errors.Mark(
			errors.Newf("adjust %s by %d would leave quantity %d below reserved %d", r.SKU, delta, next, r.Reserved),
			ErrInvalidQuantity)
	}
	r.Quantity = next
	r.apply(MovementAdjust, delta, ref, notes, now)
	return nil
}

func (r *Record) apply(t MovementType, qty int, ref, notes string, now time.Time) {
	r.recompute()
	r.UpdatedAt = now.UTC()
	r.Movements = append(r.Movements, Movement{Type: t, Quantity: qty, Reference: ref, Notes: notes, At: r.UpdatedAt})
}

// Revert takes back a counter change of dq and dr together with its
// movement, for an in-process unit of work that did not commit. Changes made
// since by others are kept.
func (r *Record) Revert(dq, dr int, m Movement) {
	r.Quantity -= dq
	r.Reserved -= dr
	r.recompute()
	for i := len(r.Movements) - 1; i >= 0; i-- {
		if r.Movements[i] == m {
			r.Movements = append(r.Movements[:i:i], r.Movements[i+1:]...)
			break
		}
	}
}

// NewRecord seeds a record; used by stores and tests.
func NewRecord(sku string, quantity, threshold int) *Record {
	r := &Record{SKU: sku, Quantity: quantity, LowStockThreshold: threshold, UpdatedAt: time.Now().UTC()}
	r.recompute()
	return r
}
