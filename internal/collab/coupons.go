package collab

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

type CouponKind string

const (
	CouponPercent CouponKind = "percent"
	CouponFixed   CouponKind = "fixed"
)

type Coupon struct {
	Code        string
	Kind        CouponKind
	Value       decimal.Decimal
	MinAmount   decimal.Decimal
	MaxDiscount *decimal.Decimal
	UsageLimit  *int
	UsedCount   int
	Active      bool
	ExpiresAt   *time.Time
}

// Discount returns what c takes off amount at now, never more than amount.
func (c *Coupon) Discount(amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	switch {
	case !c.Active:
		return decimal.Zero, invalidCoupon(c.Code, "is not active")
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return decimal.Zero, invalidCoupon(c.Code, "has expired")
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return decimal.Zero, invalidCoupon(c.Code, "has reached its usage limit")
	case amount.LessThan(c.MinAmount):
		return decimal.Zero, invalidCoupon(c.Code, "requires a minimum order of "+c.MinAmount.StringFixed(2))
	}

	var d decimal.Decimal
	switch c.Kind {
	case CouponPercent:
		d = amount.Mul(c.Value).Div(decimal.NewFromInt(100))
	case CouponFixed:
		d = c.Value
	default:
		return decimal.Zero, errors.Newf("coupon %s has unknown kind %q", c.Code, c.Kind)
	}
	if c.MaxDiscount != nil {
		d = decimal.Min(d, *c.MaxDiscount)
	}
	return orders.Round(decimal.Min(d, amount)), nil
}

func invalidCoupon(code, why string) error {
	return apperr.Invalid(apperr.CodeInvalidCoupon, "coupon "+code+" "+why)
}

type Coupons struct {
	DB  postgres.DBTX
	Now func() time.Time
}

var _ checkout.Coupons = (*Coupons)(nil)

func NewCoupons(db postgres.DBTX) *Coupons { return &Coupons{DB: db, Now: time.Now} }

func (s *Coupons) Get(ctx context.Context, code string) (*Coupon, error) {
	var (
		c    Coupon
		kind string
	)
	err := s.DB.QueryRow(ctx, `
		SELECT code, kind, value, min_amount, max_discount, usage_limit, used_count, active, expires_at
		FROM coupons WHERE code = $1`, normalizeCode(code)).
		Scan(&c.Code, &kind, &c.Value, &c.MinAmount, &c.MaxDiscount, &c.UsageLimit, &c.UsedCount, &c.Active, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invalidCoupon(code, "does not exist")
	}
	if err != nil {
		return nil, errors.Wrap(err, "select coupon")
	}
	c.Kind = CouponKind(kind)
	return &c, nil
}

// Validate prices the coupon against amount without consuming it.
func (s *Coupons) Validate(ctx context.Context, code string, amount decimal.Decimal) (*checkout.CouponResult, error) {
	c, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	d, err := c.Discount(amount, s.Now())
	if err != nil {
		return nil, err
	}
	return &checkout.CouponResult{Code: c.Code, Discount: d}, nil
}

// Redeem records one use per (code, order); redeeming the same order twice
// counts once.
func (s *Coupons) Redeem(ctx context.Context, code, userID, orderID string) error {
	_, err := s.DB.Exec(ctx, `
		WITH ins AS (
			INSERT INTO coupon_redemptions (code, order_id, user_id) VALUES ($1, $2, $3)
			ON CONFLICT (code, order_id) DO NOTHING
			RETURNING code
		)
		UPDATE coupons SET used_count = used_count + 1 WHERE code IN (SELECT code FROM ins)`,
		normalizeCode(code), orderID, userID)
	return errors.Wrap(err, "redeem coupon")
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
