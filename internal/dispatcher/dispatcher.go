// Package dispatcher runs the periodic tasks that move jobs through their
// lifecycle and drain the webhook queue. Every task is guarded by a
// database marker lease, so multiple dispatcher replicas can run without
// duplicating work most of the time. The lease is best effort: it narrows
// the duplicate-run window to the read-then-update race, it does not
// eliminate it, and every task body is written to be safe to re-run.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/metrics"
)

// Task is one periodic unit of work, identified by its cron marker type.
type Task struct {
	Type     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Dispatcher struct {
	leases *core.CronLeaseService
	tasks  []Task
	logger zerolog.Logger
}

func New(leases *core.CronLeaseService, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		leases: leases,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Register(tasks ...Task) {
	d.tasks = append(d.tasks, tasks...)
}

// Start seeds the cron markers and runs every registered task on its own
// ticker until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.leases.EnsureMarkers(ctx); err != nil {
		return fmt.Errorf("ensure cron markers: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range d.tasks {
		task := task
		g.Go(func() error {
			d.loop(ctx, task)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	d.tick(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, task)
		}
	}
}

// tick claims the task's lease and, on a win, runs the task body. Task
// errors are logged and swallowed so a bad pass never stops the loop.
func (d *Dispatcher) tick(ctx context.Context, task Task) {
	claimed, err := d.leases.Claim(ctx, task.Type, task.Interval, time.Now())
	if err != nil {
		metrics.CronRunsTotal.WithLabelValues(task.Type, "claim_error").Inc()
		d.logger.Error().Err(err).Str("task", task.Type).Msg("cron lease claim failed")
		return
	}
	if !claimed {
		metrics.CronRunsTotal.WithLabelValues(task.Type, "skipped").Inc()
		return
	}

	start := time.Now()
	err = d.run(ctx, task)
	metrics.CronRunDuration.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CronRunsTotal.WithLabelValues(task.Type, "error").Inc()
		d.logger.Error().Err(err).Str("task", task.Type).Msg("cron task failed")
		return
	}
	metrics.CronRunsTotal.WithLabelValues(task.Type, "ok").Inc()
}

func (d *Dispatcher) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Type, r)
		}
	}()
	return task.Run(ctx)
}
