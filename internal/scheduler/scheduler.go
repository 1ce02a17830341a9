// Package scheduler runs named background tasks on fixed intervals. A task
// that is still running when its next tick fires is skipped, not queued.
package scheduler

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrDuplicate   = errors.New("task already registered")
	ErrAlreadyBusy = errors.New("task is already running")
	ErrBadInterval = errors.New("interval must be positive")
)

type Func func(ctx context.Context) error

type task struct {
	name    string
	every   time.Duration
	fn      Func
	running atomic.Bool
}

type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	tasks map[string]*task
	ctx   context.Context
	stop  context.CancelFunc
}

func New(log *slog.Logger, m *metrics.Metrics) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl)),
		log:     log,
		metrics: m,
		tasks:   map[string]*task{},
		ctx:     ctx,
		stop:    stop,
	}
}

// Register adds a task that fires every interval once Start is called.
func (s *Scheduler) Register(name string, every time.Duration, fn Func) error {
	if every <= 0 {
		return errors.Wrapf(ErrBadInterval, "task %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return errors.Wrapf(ErrDuplicate, "task %s", name)
	}
	t := &task{name: name, every: every, fn: fn}
	s.tasks[name] = t
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		if err := s.run(s.ctx, t); err != nil && !errors.Is(err, ErrAlreadyBusy) {
			s.log.Error("task failed", slog.String("task", name), slog.String("error", err.Error()))
		}
	}))
	return nil
}

func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) Start() {
	s.log.Info("scheduler started", slog.Any("tasks", s.Tasks()))
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs name synchronously, honouring the skip-if-running guard.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "%q", name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) run(ctx context.Context, t *task) (err error) {
	if !t.running.CompareAndSwap(false, true) {
		s.metrics.JobRun(t.name, "skipped", 0)
		s.log.Warn("task still running, tick skipped", slog.String("task", t.name))
		return ErrAlreadyBusy
	}
	defer t.running.Store(false)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("task %s panicked: %v", t.name, r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.JobRun(t.name, result, time.Since(start))
	}()
	return t.fn(ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, kv...)...)
}
