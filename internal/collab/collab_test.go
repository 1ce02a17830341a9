package collab

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"strings"
	"testing"
	"time"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildCartAppliesTaxRate(t *testing.T) {
	c := BuildCart("u1", []checkout.CartItem{
		{SKU: "A", Qty: 2, UnitPrice: dec("100.00")},
		{SKU: "B", Qty: 1, UnitPrice: dec("19.99")},
	}, dec("0.18"))

	assert.True(t, c.Subtotal.Equal(dec("219.99")))
	assert.True(t, c.Tax.Equal(dec("39.60")), c.Tax.String())
}

func TestCouponDiscount(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	capAt := dec("50")
	limit := 3

	cases := []struct {
		name   string
		coupon Coupon
		amount string
		want   string
		code   string
	}{
		{"percent", Coupon{Code: "P10", Kind: CouponPercent, Value: dec("10"), Active: true}, "555.00", "55.50", ""},
		{"percent capped", Coupon{Code: "P20", Kind: CouponPercent, Value: dec("20"), MaxDiscount: &capAt, Active: true}, "1000", "50.00", ""},
		{"fixed never exceeds amount", Coupon{Code: "F", Kind: CouponFixed, Value: dec("75"), Active: true}, "60", "60.00", ""},
		{"below minimum", Coupon{Code: "M", Kind: CouponFixed, Value: dec("5"), MinAmount: dec("100"), Active: true}, "99.99", "", apperr.CodeInvalidCoupon},
		{"expired", Coupon{Code: "E", Kind: CouponFixed, Value: dec("5"), ExpiresAt: &past, Active: true}, "10", "", apperr.CodeInvalidCoupon},
		{"inactive", Coupon{Code: "I", Kind: CouponFixed, Value: dec("5")}, "10", "", apperr.CodeInvalidCoupon},
		{"used up", Coupon{Code: "U", Kind: CouponFixed, Value: dec("5"), UsageLimit: &limit, UsedCount: 3, Active: true}, "10", "", apperr.CodeInvalidCoupon},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := tc.coupon.Discount(dec(tc.amount), now)
			if tc.code != "" {
				require.Error(t, err)
				assert.Equal(t, tc.code, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, d.Equal(dec(tc.want)), "got %s", d)
		})
	}
}

func TestQuote(t *testing.T) {
	q := Quote(dec("40.00"), 3, dec("5"))
	assert.True(t, q.Discount.Equal(dec("6.00")))
	assert.True(t, q.FinalPrice.Equal(dec("114.00")))

	q = Quote(dec("40.00"), 1, decimal.Zero)
	assert.True(t, q.Discount.IsZero())
	assert.True(t, q.FinalPrice.Equal(dec("40.00")))
}

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func TestPostgresCollaborators(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	user := "u-" + uuid.NewString()[:8]
	code := "C" + strings.ToUpper(uuid.NewString()[:6])
	product := "p-" + uuid.NewString()[:8]

	_, err := pool.Exec(ctx, `INSERT INTO carts (user_id) VALUES ($1)`, user)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO cart_items (user_id, product_id, sku, qty, unit_price) VALUES ($1, $2, 'SKU-1', 3, 40)`, user, product)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO coupons (code, kind, value, usage_limit) VALUES ($1, 'fixed', 10, 1)`, code)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO pricing_rules (product_id, min_qty, percent_off) VALUES ($1, 3, 5), ($1, 10, 12)`, product)
	require.NoError(t, err)

	carts := NewCarts(pool, dec("0.18"))
	cart, err := carts.GetCart(ctx, user)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Subtotal.Equal(dec("120")))
	assert.True(t, cart.Tax.Equal(dec("21.60")))

	q, err := NewPricing(pool).CalculatePrice(ctx, product, 3, dec("40"))
	require.NoError(t, err)
	assert.True(t, q.Discount.Equal(dec("6")))

	coupons := NewCoupons(pool)
	res, err := coupons.Validate(ctx, code, dec("120"))
	require.NoError(t, err)
	assert.True(t, res.Discount.Equal(dec("10")))
	require.NoError(t, coupons.Redeem(ctx, code, user, "order-1"))
	require.NoError(t, coupons.Redeem(ctx, code, user, "order-1"))
	_, err = coupons.Validate(ctx, code, dec("120"))
	assert.Equal(t, apperr.CodeInvalidCoupon, apperr.CodeOf(err))

	id, err := NewAddresses(pool).Create(ctx, user, checkout.Address{Name: "A", Line1: "1 Road", City: "Pune", PostalCode: "411001", Country: "IN"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, carts.Clear(ctx, user))
	cart, err = carts.GetCart(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}
