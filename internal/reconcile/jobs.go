// Package reconcile repairs drift between local payment transactions and the
// provider. Every job works record by record: one bad record is logged and
// counted, the batch goes on.
package reconcile

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	"log/slog"
	"time"
)

const (
	JobSync        = "sync"
	JobReconcile   = "reconcile"
	JobRetryFailed = "retry-failed"
	sourceWebhook  = "webhook"
)

type Jobs struct {
	Transactions payments.Repository
	Orders       orders.Repository
	Gateway      gateway.Gateway
	Events       orders.Publisher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	// Limiter throttles provider calls; nil means unthrottled.
	Limiter    *rate.Limiter
	Retry      payments.RetryPolicy
	SyncMinAge time.Duration
	Lookback   time.Duration
	Batch      int
	Service    string
	Now        func() time.Time
}

// Report summarises one job run.
type Report struct {
	Job       string        `json:"job"`
	Scanned   int           `json:"scanned"`
	Updated   int           `json:"updated"`
	Flagged   int           `json:"flagged"`
	Exhausted int           `json:"exhausted"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

func (j *Jobs) batch() int {
	if j.Batch > 0 {
		return j.Batch
	}
	return 200
}

// Run dispatches by job name.
func (j *Jobs) Run(ctx context.Context, job string) (Report, error) {
	switch job {
	case JobSync:
		return j.Sync(ctx)
	case JobReconcile:
		return j.Reconcile(ctx)
	case JobRetryFailed:
		return j.RetryFailed(ctx)
	}
	return Report{Job: job}, errors.Newf("unknown job %q", job)
}

// Sync refreshes transactions still in flight locally that have been quiet
// for at least SyncMinAge. This is where an unknown capture outcome gets
// resolved.
func (j *Jobs) Sync(ctx context.Context) (Report, error) {
	before := j.now().Add(-j.SyncMinAge)
	return j.scan(ctx, JobSync, payments.ListFilter{
		Statuses:       []payments.Status{payments.StatusPending, payments.StatusProcessing},
		UpdatedBefore:  &before,
		WithProviderID: true,
		ExcludeFlagged: true,
		Limit:          j.batch(),
	}, j.refresh)
}

// Reconcile re-reads recently touched transactions and compares amount and
// status with the provider.
func (j *Jobs) Reconcile(ctx context.Context) (Report, error) {
	after := j.now().Add(-j.Lookback)
	return j.scan(ctx, JobReconcile, payments.ListFilter{
		Statuses: []payments.Status{
			payments.StatusSuccess, payments.StatusFailed, payments.StatusPending, payments.StatusProcessing,
		},
		UpdatedAfter:   &after,
		WithProviderID: true,
		ExcludeFlagged: true,
		Limit:          j.batch(),
	}, j.refresh)
}

// RetryFailed re-checks failed transactions whose next retry is due. A
// capture found at the provider marks the transaction successful; otherwise
// the retry count grows and the next check is pushed out until the policy
// gives up.
func (j *Jobs) RetryFailed(ctx context.Context) (Report, error) {
	now := j.now()
	return j.scan(ctx, JobRetryFailed, payments.ListFilter{
		Statuses:       []payments.Status{payments.StatusFailed},
		RetryDueBy:     &now,
		MaxRetryCount:  j.Retry.MaxRetries,
		WithProviderID: true,
		ExcludeFlagged: true,
		Limit:          j.batch(),
	}, j.retry)
}

type step func(ctx context.Context, job string, txn *payments.Transaction, rep *Report) error

func (j *Jobs) scan(ctx context.Context, job string, f payments.ListFilter, fn step) (Report, error) {
	start := time.Now()
	rep := Report{Job: job}
	defer func() {
		rep.Duration = time.Since(start)
		j.Metrics.Reconciled(job, "updated", rep.Updated)
		j.Metrics.Reconciled(job, "flagged", rep.Flagged)
		j.Metrics.Reconciled(job, "exhausted", rep.Exhausted)
		j.Metrics.Reconciled(job, "skipped", rep.Skipped)
		j.Metrics.Reconciled(job, "failed", rep.Failed)
	}()

	txns, err := j.Transactions.List(ctx, f)
	if err != nil {
		return rep, errors.Wrapf(err, "%s: list transactions", job)
	}
	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		err := fn(ctx, job, txn, &rep)
		switch {
		case err == nil:
		case errors.Is(err, payments.ErrVersionConflict):
			rep.Skipped++
		case ctx.Err() != nil:
			return rep, ctx.Err()
		default:
			rep.Failed++
			j.Logger.ErrorContext(ctx, "reconcile record failed",
				slog.String("job", job),
				slog.String("transaction_id", txn.ID),
				slog.String("error", err.Error()))
		}
	}
	j.Logger.InfoContext(ctx, "job finished",
		slog.String("job", job),
		slog.Int("scanned", rep.Scanned),
		slog.Int("updated", rep.Updated),
		slog.Int("flagged", rep.Flagged),
		slog.Int("failed", rep.Failed))
	return rep, nil
}

func (j *Jobs) details(ctx context.Context, paymentID string) (*gateway.ProviderPayment, error) {
	if j.Limiter != nil {
		if err := j.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return j.Gateway.PaymentDetails(ctx, paymentID)
}

func (j *Jobs) refresh(ctx context.Context, job string, txn *payments.Transaction, rep *Report) error {
	p, err := j.details(ctx, txn.ProviderPaymentID)
	if err != nil {
		return err
	}
	return j.apply(ctx, job, txn, p, rep)
}

func (j *Jobs) retry(ctx context.Context, job string, txn *payments.Transaction, rep *Report) error {
	p, err := j.details(ctx, txn.ProviderPaymentID)
	if err != nil {
		return err
	}
	if p.Mapped() == payments.StatusSuccess {
		return j.apply(ctx, job, txn, p, rep)
	}

	from := txn.Status
	now := j.now()
	txn.RetryCount++
	reason := p.ErrorDescription
	if reason == "" {
		reason = "provider status " + p.Status
	}
	if j.Retry.Exhausted(txn.RetryCount) {
		txn.NextRetryAt = nil
		txn.LastError = "retries exhausted: " + reason
		rep.Exhausted++
	} else {
		next := j.Retry.NextRetryAt(now, txn.RetryCount)
		txn.NextRetryAt = &next
		txn.LastError = reason
	}
	if err := j.Transactions.Update(ctx, txn); err != nil {
		return err
	}
	rep.Updated++
	if txn.NextRetryAt == nil {
		j.audit(ctx, job, txn, from, "retries exhausted")
	}
	return nil
}
