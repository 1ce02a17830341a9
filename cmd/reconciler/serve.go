package main

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/reconcile"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/ariefcatur/go-checkout-saga/internal/scheduler"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs and the webhook consumer until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()
			if addr == "" {
				addr = d.cfg.HTTPAddr
			}
			return serve(ctx, d, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "metrics-addr", "", "listen address for /metrics (defaults to HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, d *deps, addr string) error {
	sched := scheduler.New(d.log, d.metrics)
	for _, t := range []struct {
		job   string
		every time.Duration
	}{
		{reconcile.JobSync, d.cfg.SyncEvery},
		{reconcile.JobReconcile, d.cfg.ReconcileEvery},
		{reconcile.JobRetryFailed, d.cfg.RetryEvery},
	} {
		job := t.job
		if err := sched.Register(job, t.every, func(ctx context.Context) error {
			_, err := d.jobs.Run(ctx, job)
			return err
		}); err != nil {
			return err
		}
	}

	rdb := redisx.New(d.cfg.RedisAddr, "", 0)
	defer rdb.Close()
	wh := &reconcile.WebhookHandler{
		Jobs:    d.jobs,
		Gateway: d.gw,
		Redis:   rdb,
		Metrics: d.metrics,
		Logger:  d.log,
		Service: "reconciler",
	}
	cons := kafka.NewConsumer(d.cfg.KafkaBrokers, d.cfg.WebhookGroup, orders.TopicPaymentWebhook, 1, d.log)
	srv := &http.Server{Addr: addr, Handler: d.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}

	sched.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cons.Start(gctx, wh.Handle) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		serr := sched.Stop(sctx)
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		return serr
	})
	err := g.Wait()
	if err != nil {
		d.log.Error("reconciler stopped", slog.String("error", err.Error()))
	}
	return err
}
