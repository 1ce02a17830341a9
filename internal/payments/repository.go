package payments

import (
	"context"
	"github.com/cockroachdb/errors"
	"time"
)

var (
	ErrNotFound        = errors.New("transaction not found")
	ErrVersionConflict = errors.New("transaction modified concurrently")
)

type ListFilter struct {
	Statuses       []Status
	UpdatedBefore  *time.Time
	UpdatedAfter   *time.Time
	RetryDueBy     *time.Time // next_retry_at is null or <= RetryDueBy
	MaxRetryCount  int        // retry_count < MaxRetryCount when > 0
	WithProviderID bool
	ExcludeFlagged bool
	Limit          int
}

// Repository persists transactions independently of the order unit of work.
// Update is optimistic: it fails with ErrVersionConflict when t.Version is
// stale and bumps t.Version on success.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByProviderPaymentID(ctx context.Context, paymentID string) (*Transaction, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error)
	List(ctx context.Context, f ListFilter) ([]*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
}

// Match applies the filter in memory; it mirrors the SQL in Repo.List.
func (f ListFilter) Match(t *Transaction) bool {
	if t.Deleted {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.UpdatedBefore != nil && !t.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	if f.UpdatedAfter != nil && t.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	if f.RetryDueBy != nil && t.NextRetryAt != nil && t.NextRetryAt.After(*f.RetryDueBy) {
		return false
	}
	if f.MaxRetryCount > 0 && t.RetryCount >= f.MaxRetryCount {
		return false
	}
	if f.WithProviderID && t.ProviderPaymentID == "" {
		return false
	}
	if f.ExcludeFlagged && t.FlaggedForReview {
		return false
	}
	return true
}
