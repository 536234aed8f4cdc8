package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Locker keeps a schedule to one instance at a time.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Runner drives the hourly and daily schedules.
type Runner struct {
	Sweeper *Sweeper
	Locker  Locker
	Hourly  time.Duration
	Daily   time.Duration
	Log     *slog.Logger
}

// Run sweeps once on start and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.RunAll(ctx)
	hourly := time.NewTicker(r.Hourly)
	defer hourly.Stop()
	daily := time.NewTicker(r.Daily)
	defer daily.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hourly.C:
			r.run(ctx, "hourly", r.Hourly, r.Sweeper.Hourly)
		case <-daily.C:
			r.run(ctx, "daily", r.Daily, r.Sweeper.Daily)
		}
	}
}

// RunAll runs both schedules once.
func (r *Runner) RunAll(ctx context.Context) []Report {
	out := r.run(ctx, "hourly", r.Hourly, r.Sweeper.Hourly)
	return append(out, r.run(ctx, "daily", r.Daily, r.Sweeper.Daily)...)
}

func (r *Runner) run(ctx context.Context, schedule string, ttl time.Duration, fn func(context.Context) []Report) []Report {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	if r.Locker != nil {
		unlock, ok, err := r.Locker.TryLock(ctx, "sweep:"+schedule, ttl)
		if err != nil {
			log.Warn("sweep lock failed", "schedule", schedule, "err", err)
			return nil
		}
		if !ok {
			log.Debug("sweep held by another instance", "schedule", schedule)
			return nil
		}
		defer unlock()
	}
	return fn(ctx)
}
