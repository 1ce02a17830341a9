package main

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/config"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/ariefcatur/go-checkout-saga/internal/reconcile"
	"github.com/ariefcatur/go-checkout-saga/internal/store/pgstore"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
	"log/slog"
)

// deps is what both subcommands share.
type deps struct {
	cfg     config.Config
	log     *slog.Logger
	db      *pgxpool.Pool
	gw      gateway.Gateway
	prod    *kafkax.Producer
	metrics *metrics.Metrics
	jobs    *reconcile.Jobs
}

func newDeps(ctx context.Context) (*deps, error) {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName+"-reconciler")

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, errors.Wrap(err, "db connect")
	}
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(context.Background())

	st := pgstore.New(db)
	gw := gateway.NewClient(cfg.Gateway())
	m := metrics.New("reconciler")

	var lim *rate.Limiter
	if cfg.ProviderRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.ProviderRPS), 1)
	}
	return &deps{
		cfg:     cfg,
		log:     log,
		db:      db,
		gw:      gw,
		prod:    prod,
		metrics: m,
		jobs: &reconcile.Jobs{
			Transactions: st.Transactions(),
			Orders:       st.Orders(),
			Gateway:      gw,
			Events:       prod,
			Metrics:      m,
			Logger:       log,
			Limiter:      lim,
			Retry:        cfg.Retry(),
			SyncMinAge:   cfg.SyncMinAge,
			Lookback:     cfg.ReconcileLookback,
			Batch:        cfg.ReconcileBatch,
			Service:      cfg.ServiceName + "-reconciler",
		},
	}, nil
}

func (d *deps) close() {
	d.prod.Close()
	d.prod.WaitClosed()
	d.db.Close()
}
