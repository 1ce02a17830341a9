package main

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/ariefcatur/go-checkout-saga/internal/collab"
	"github.com/ariefcatur/go-checkout-saga/internal/config"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/httpx"
	"github.com/ariefcatur/go-checkout-saga/internal/idempotency"
	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/ariefcatur/go-checkout-saga/internal/store/pgstore"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName)

	if err := run(cfg, log); err != nil {
		log.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return errors.Wrap(err, "db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return errors.Wrap(err, "migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr, "", 0)
	defer rdb.Close()

	// Kafka producer, one writer for every topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 4096, log)
	prod.Start(context.Background())
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	var idem idempotency.Store = idempotency.NewRedis(rdb, "checkout", cfg.IdempotencyTTL)
	if cfg.IdempotencyBackend == "memory" {
		idem = idempotency.NewMemory(cfg.IdempotencySize, cfg.IdempotencyTTL)
	}

	m := metrics.New("checkout")
	st := pgstore.New(db)
	co := &checkout.Coordinator{
		Store:       st,
		Gateway:     gateway.NewClient(cfg.Gateway()),
		Idempotency: idem,
		Carts:       collab.NewCarts(db, cfg.TaxRate),
		Coupons:     collab.NewCoupons(db),
		Pricing:     collab.NewPricing(db),
		Addresses:   collab.NewAddresses(db),
		Events:      prod,
		Metrics:     m,
		Logger:      log,
		Retry:       cfg.Retry(),
		Currency:    cfg.Currency,
		Service:     cfg.ServiceName,
	}

	router := httpx.NewRouter(m)
	(&httpx.CheckoutHandler{Checkout: co, Logger: log}).Register(router)
	(&httpx.OrdersHandler{
		Orders:       st.Orders(),
		Status:       &orders.StatusService{Repo: st.Orders(), Events: prod, Logger: log, Service: cfg.ServiceName},
		Transactions: st.Transactions(),
		Redis:        rdb,
		Logger:       log,
	}).Register(router)
	(&httpx.WebhookHandler{Gateway: co.Gateway, Events: prod, Metrics: m, Logger: log, Service: cfg.ServiceName}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
