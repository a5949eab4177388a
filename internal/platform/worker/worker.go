// Package worker runs the clinic's periodic background jobs. Tenant jobs run
// once per tenant schema with that tenant's search_path in place.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Job is a unit of background work. PerTenant jobs run once per tenant schema;
// the others once per tick.
type Job struct {
	Name      string
	PerTenant bool
	Run       func(ctx context.Context) error
}

// TenantLister returns the tenants to visit on a tick.
type TenantLister func(ctx context.Context) ([]string, error)

// TenantRunner runs fn on a connection scoped to tenant.
type TenantRunner func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

type Worker struct {
	tenants     TenantLister
	run         TenantRunner
	interval    time.Duration
	concurrency int
	logger      zerolog.Logger

	mu   sync.Mutex
	jobs []Job
}

func New(tenants TenantLister, run TenantRunner, interval time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		tenants:     tenants,
		run:         run,
		interval:    interval,
		concurrency: defaultConcurrency,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

// SetConcurrency caps how many tenants are processed at once.
func (w *Worker) SetConcurrency(n int) {
	if n > 0 {
		w.concurrency = n
	}
}

func (w *Worker) Register(job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
}

func (w *Worker) snapshot() (global, tenant []Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, j := range w.jobs {
		if j.PerTenant {
			tenant = append(tenant, j)
		} else {
			global = append(global, j)
		}
	}
	return global, tenant
}

// Start runs every job immediately and then on each tick. It blocks until ctx
// is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("worker started")
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single pass of every registered job. Failures are logged and
// never abort the pass.
func (w *Worker) RunOnce(ctx context.Context) {
	global, tenant := w.snapshot()
	for _, j := range global {
		if ctx.Err() != nil {
			return
		}
		w.exec(ctx, j, "", j.Run)
	}
	if len(tenant) == 0 {
		return
	}

	tenants, err := w.tenants(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list tenants")
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, t := range tenants {
		t := t
		g.Go(func() error {
			for _, j := range tenant {
				if gctx.Err() != nil {
					return nil
				}
				j := j
				w.exec(gctx, j, t, func(ctx context.Context) error {
					return w.run(ctx, t, j.Run)
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) exec(ctx context.Context, j Job, tenant string, fn func(ctx context.Context) error) {
	start := time.Now()
	err := safeRun(ctx, fn)
	ev := w.logger.Info()
	if err != nil {
		ev = w.logger.Error().Err(err)
	}
	if tenant != "" {
		ev = ev.Str("tenant", tenant)
	}
	ev.Str("job", j.Name).Dur("duration", time.Since(start)).Msg("job run")
}

func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
