// Package sweeper runs the background reconciliation jobs on their own
// tickers. Each run takes a Redis leader lock so only one replica works a
// job at a time.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/lock"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	JobReservationSweep = "reservation-sweep"
	JobTicketExpiry     = "ticket-expiry"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Runner struct {
	jobs   []Job
	locker Locker
	logger *logger.Logger
}

func NewRunner(locker Locker, log *logger.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, locker: locker, logger: log}
}

// Start runs every job once immediately and then on its ticker until ctx is
// cancelled. A failing run is logged and never stops later runs.
func (r *Runner) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		job := job
		g.Go(func() error {
			r.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	r.logger.LogSweep(job.Name, fmt.Sprintf("scheduled every %s", job.Interval))
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			r.logger.LogSweep(job.Name, "stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes a single guarded run of job. When the lock backend
// itself fails the job runs without it.
func (r *Runner) RunOnce(ctx context.Context, job Job) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.SweepRuns.WithLabelValues(job.Name, status).Inc()
		metrics.SweepDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}()

	// The lock outlives a run slightly; a replica that misses one tick just
	// catches up on the next.
	ttl := job.Interval
	if ttl <= 0 || ttl > 10*time.Minute {
		ttl = 10 * time.Minute
	}

	var err error
	if r.locker == nil {
		err = job.Run(ctx)
	} else {
		ran := false
		err = r.locker.WithLock(ctx, lock.SweepKey(job.Name), ttl, func(ctx context.Context) error {
			ran = true
			return job.Run(ctx)
		})
		if err != nil && !ran && !errors.Is(err, lock.ErrNotAcquired) {
			// Every sweep write is a compare-and-set, so overlapping
			// replicas are safe; stale holds must not outlive a Redis outage.
			r.logger.Warn("SWEEP", fmt.Sprintf("Lock for %s unavailable, running unlocked: %v", job.Name, err))
			status = "unlocked"
			err = job.Run(ctx)
		}
	}
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		status = "skipped"
		r.logger.Debug("SWEEP", fmt.Sprintf("Job %s is running on another replica, skipped", job.Name))
	case err != nil:
		status = "error"
		r.logger.Error("SWEEP", fmt.Sprintf("Job %s failed: %v", job.Name, err))
	}
}
