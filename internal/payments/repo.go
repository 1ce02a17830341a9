package payments

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"strconv"
	"strings"
	"time"
)

type Repo struct{ DB postgres.DBTX }

func NewRepo(db postgres.DBTX) *Repo { return &Repo{DB: db} }

const txnColumns = `id::text, public_id, order_id, user_id, gateway_order_id, provider_payment_id, amount, currency,
	method, status, provider_response, fee, refunds, retry_count, next_retry_at, failed_at, last_error,
	flagged_for_review, review_reason, paid_at, deleted, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, t *Transaction) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payment_transactions(id, public_id, order_id, user_id, gateway_order_id, provider_payment_id,
			amount, currency, method, status, provider_response, fee, refunds, retry_count, next_retry_at, failed_at,
			last_error, flagged_for_review, review_reason, paid_at, deleted, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		t.ID, t.PublicID, t.OrderID, t.UserID, t.GatewayOrderID, t.ProviderPaymentID,
		t.Amount, t.Currency, t.Method, string(t.Status), nullJSON(t.ProviderResponse), t.Fee, refundsOrEmpty(t.Refunds),
		t.RetryCount, t.NextRetryAt, t.FailedAt, t.LastError, t.FlaggedForReview, t.ReviewReason, t.PaidAt,
		t.Deleted, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	return errors.Wrap(err, "insert payment transaction")
}

func (r *Repo) Get(ctx context.Context, id string) (*Transaction, error) {
	return r.one(ctx, `SELECT `+txnColumns+` FROM payment_transactions WHERE (id::text = $1 OR public_id = $1) AND NOT deleted`, id)
}

func (r *Repo) GetByProviderPaymentID(ctx context.Context, paymentID string) (*Transaction, error) {
	return r.one(ctx, `SELECT `+txnColumns+` FROM payment_transactions
		WHERE provider_payment_id = $1 AND NOT deleted ORDER BY created_at DESC LIMIT 1`, paymentID)
}

func (r *Repo) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Transaction, error) {
	return r.one(ctx, `SELECT `+txnColumns+` FROM payment_transactions
		WHERE gateway_order_id = $1 AND NOT deleted ORDER BY created_at DESC LIMIT 1`, gatewayOrderID)
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	return r.many(ctx, `SELECT `+txnColumns+` FROM payment_transactions
		WHERE order_id = $1 AND NOT deleted ORDER BY created_at`, orderID)
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]*Transaction, error) {
	var (
		where = []string{"NOT deleted"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			ss = append(ss, string(s))
		}
		where = append(where, "status = ANY("+arg(ss)+")")
	}
	if f.UpdatedBefore != nil {
		where = append(where, "updated_at < "+arg(*f.UpdatedBefore))
	}
	if f.UpdatedAfter != nil {
		where = append(where, "updated_at >= "+arg(*f.UpdatedAfter))
	}
	if f.RetryDueBy != nil {
		where = append(where, "(next_retry_at IS NULL OR next_retry_at <= "+arg(*f.RetryDueBy)+")")
	}
	if f.MaxRetryCount > 0 {
		where = append(where, "retry_count < "+arg(f.MaxRetryCount))
	}
	if f.WithProviderID {
		where = append(where, "provider_payment_id <> ''")
	}
	if f.ExcludeFlagged {
		where = append(where, "NOT flagged_for_review")
	}
	q := `SELECT ` + txnColumns + ` FROM payment_transactions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_at`
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	return r.many(ctx, q, args...)
}

func (r *Repo) Update(ctx context.Context, t *Transaction) error {
	now := time.Now().UTC()
	ct, err := r.DB.Exec(ctx, `
		UPDATE payment_transactions SET gateway_order_id=$3, provider_payment_id=$4, amount=$5, status=$6,
			provider_response=$7, fee=$8, refunds=$9, retry_count=$10, next_retry_at=$11, failed_at=$12,
			last_error=$13, flagged_for_review=$14, review_reason=$15, paid_at=$16, deleted=$17,
			version = version + 1, updated_at=$18
		WHERE id::text = $1 AND version = $2`,
		t.ID, t.Version, t.GatewayOrderID, t.ProviderPaymentID, t.Amount, string(t.Status),
		nullJSON(t.ProviderResponse), t.Fee, refundsOrEmpty(t.Refunds), t.RetryCount, t.NextRetryAt, t.FailedAt,
		t.LastError, t.FlaggedForReview, t.ReviewReason, t.PaidAt, t.Deleted, now,
	)
	if err != nil {
		return errors.Wrap(err, "update payment transaction")
	}
	if ct.RowsAffected() != 1 {
		return ErrVersionConflict
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (r *Repo) one(ctx context.Context, q string, args ...any) (*Transaction, error) {
	t, err := scanTxn(r.DB.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, errors.Wrap(err, "select payment transaction")
}

func (r *Repo) many(ctx context.Context, q string, args ...any) ([]*Transaction, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list payment transactions")
	}
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTxn(row pgx.Row) (*Transaction, error) {
	var (
		t      Transaction
		status string
		resp   []byte
	)
	err := row.Scan(&t.ID, &t.PublicID, &t.OrderID, &t.UserID, &t.GatewayOrderID, &t.ProviderPaymentID,
		&t.Amount, &t.Currency, &t.Method, &status, &resp, &t.Fee, &t.Refunds, &t.RetryCount,
		&t.NextRetryAt, &t.FailedAt, &t.LastError, &t.FlaggedForReview, &t.ReviewReason, &t.PaidAt,
		&t.Deleted, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if len(resp) > 0 {
		t.ProviderResponse = resp
	}
	return &t, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func refundsOrEmpty(r []Refund) []Refund {
	if r == nil {
		return []Refund{}
	}
	return r
}
