package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/code-and-effect/effective-qb-sync/internal/domain"
)

// Reaper fails tickets abandoned mid-session. The connector normally closes
// every session, but a killed connector leaves its ticket stuck in a
// non-terminal state forever; the reaper runs on a cron schedule and moves
// anything untouched for longer than maxAge to RequestError.
type Reaper struct {
	store  domain.TicketStore
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger
}

func NewReaper(store domain.TicketStore, maxAge time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logger,
	}
}

// Run performs one reap pass.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	msg := fmt.Sprintf("Session abandoned: no connector activity for %s", r.maxAge)

	n, err := r.store.ReapStale(ctx, cutoff, msg)
	if err != nil {
		return 0, fmt.Errorf("reap stale tickets: %w", err)
	}
	if n > 0 {
		r.logger.Info("reaped stale tickets", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Start registers the reap pass under the given cron schedule and starts the
// scheduler.
func (r *Reaper) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.Run(context.Background()); err != nil {
			r.logger.Error("reaper run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	r.logger.Info("ticket reaper started", "schedule", schedule, "max_age", r.maxAge)
	return nil
}

// Stop gracefully stops the scheduler.
func (r *Reaper) Stop() {
	r.cron.Stop()
	r.logger.Info("ticket reaper stopped")
}
