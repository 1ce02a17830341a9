package orders

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"time"
)

// Repo is the Postgres Repository. DB is either the pool or a pgx.Tx.
type Repo struct{ DB postgres.DBTX }

func NewRepo(db postgres.DBTX) *Repo { return &Repo{DB: db} }

const orderColumns = `id::text, public_id, order_number, user_id, status, shipping_address_id, billing_address_id,
	subtotal, discount, tax, coupon_code, coupon_discount, total, currency,
	payment_method, payment_txn_id, payment_provider_id, payment_status, payment_amount, paid_at,
	tracking_number, carrier, notes, deleted, created_by, updated_by, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o *Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders(id, public_id, order_number, user_id, status, shipping_address_id, billing_address_id,
			subtotal, discount, tax, coupon_code, coupon_discount, total, currency,
			payment_method, payment_txn_id, payment_provider_id, payment_status, payment_amount, paid_at,
			tracking_number, carrier, notes, deleted, created_by, updated_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
		o.ID, o.PublicID, o.Number, o.UserID, string(o.Status), o.ShippingAddressID, o.BillingAddressID,
		o.Subtotal, o.Discount, o.Tax, o.CouponCode, o.CouponDiscount, o.Total, o.Currency,
		o.Payment.Method, o.Payment.TransactionID, o.Payment.ProviderPaymentID, string(o.Payment.Status), o.Payment.Amount, o.Payment.PaidAt,
		o.TrackingNumber, o.Carrier, o.Notes, o.Deleted, o.CreatedBy, o.UpdatedBy, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return errors.Mark(errors.Wrapf(err, "insert order %s", o.Number), ErrDuplicate)
		}
		return errors.Wrapf(err, "insert order %s", o.Number)
	}

	for i, it := range o.Items {
		if _, err := r.DB.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, variant_id, sku, name, qty, unit_price, discount, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			o.ID, i+1, it.ProductID, it.VariantID, it.SKU, it.Name, it.Qty, it.UnitPrice, it.Discount, it.Total,
		); err != nil {
			return errors.Wrapf(err, "insert order item %d", i+1)
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE (id::text = $1 OR public_id = $1) AND NOT deleted`, id)
}

func (r *Repo) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1 AND NOT deleted`, number)
}

func (r *Repo) getOne(ctx context.Context, query, arg string) (*Order, error) {
	var (
		o                     Order
		status, paymentStatus string
	)
	err := r.DB.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.PublicID, &o.Number, &o.UserID, &status, &o.ShippingAddressID, &o.BillingAddressID,
		&o.Subtotal, &o.Discount, &o.Tax, &o.CouponCode, &o.CouponDiscount, &o.Total, &o.Currency,
		&o.Payment.Method, &o.Payment.TransactionID, &o.Payment.ProviderPaymentID, &paymentStatus, &o.Payment.Amount, &o.Payment.PaidAt,
		&o.TrackingNumber, &o.Carrier, &o.Notes, &o.Deleted, &o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	o.Status = Status(status)
	o.Payment.Status = payments.Status(paymentStatus)

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, variant_id, sku, name, qty, unit_price, discount, total
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.SKU, &it.Name, &it.Qty, &it.UnitPrice, &it.Discount, &it.Total); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *Repo) UpdatePayment(ctx context.Context, id string, p Payment, actor string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_method=$2, payment_txn_id=$3, payment_provider_id=$4, payment_status=$5,
			payment_amount=$6, paid_at=$7, updated_by=$8, updated_at=$9
		WHERE id::text = $1 AND NOT deleted`,
		id, p.Method, p.TransactionID, p.ProviderPaymentID, string(p.Status), p.Amount, p.PaidAt, actor, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "update order payment")
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status, actor string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, updated_by=$4, updated_at=$5
		WHERE id::text = $1 AND status = $2 AND NOT deleted`,
		id, string(from), string(to), actor, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id::text = $1 AND NOT deleted)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check order")
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}
