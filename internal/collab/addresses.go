package collab

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Addresses struct{ DB postgres.DBTX }

var _ checkout.Addresses = (*Addresses)(nil)

func NewAddresses(db postgres.DBTX) *Addresses { return &Addresses{DB: db} }

// Create stores a snapshot of a checkout address and returns its id.
func (s *Addresses) Create(ctx context.Context, userID string, a checkout.Address) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.Exec(ctx, `
		INSERT INTO addresses (id, user_id, kind, full_name, line1, line2, city, state, postal_code, country, phone)
		VALUES ($1, $2, 'checkout', $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, userID, a.Name, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone)
	if err != nil {
		return "", errors.Wrap(err, "insert address")
	}
	return id, nil
}
