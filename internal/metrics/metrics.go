// Package metrics owns the process's Prometheus registry. All recording
// methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

type Metrics struct {
	Registry *prometheus.Registry

	checkouts       *prometheus.CounterVec
	checkoutLatency prometheus.Histogram
	compensations   *prometheus.CounterVec
	replays         prometheus.Counter
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	reconciled      *prometheus.CounterVec
	restocked       prometheus.Counter
	webhooks        *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		checkoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "duration_seconds",
			Help:    "End to end checkout latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "compensations_total",
			Help: "Compensating refunds by result.",
		}, []string{"result"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "idempotent_replays_total",
			Help: "Checkouts answered from the idempotency store.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "runs_total",
			Help: "Scheduled job runs by result (ok, error, skipped).",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Scheduled job run time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "records_total",
			Help: "Transactions touched by reconciliation, by job and action.",
		}, []string{"job", "action"}),
		restocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "restocked_units_total",
			Help: "Units returned to stock after cancellation or return.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "received_total",
			Help: "Provider webhooks by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkouts, m.checkoutLatency, m.compensations, m.replays,
		m.jobRuns, m.jobDuration, m.reconciled, m.restocked, m.webhooks,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) CheckoutFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
	m.checkoutLatency.Observe(d.Seconds())
}

func (m *Metrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) Replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *Metrics) JobRun(job, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	if result != "skipped" {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *Metrics) Reconciled(job, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.WithLabelValues(job, action).Add(float64(n))
}

func (m *Metrics) Restocked(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.restocked.Add(float64(units))
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}
