package orders

import (
	"context"
	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound       = errors.New("order not found")
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrDuplicate      = errors.New("order already exists")
)

// Repository is the durable order record. Get accepts either the internal
// id or the public id.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	UpdatePayment(ctx context.Context, id string, p Payment, actor string) error
	// UpdateStatus is a compare-and-swap on the current status.
	UpdateStatus(ctx context.Context, id string, from, to Status, actor string) error
}
