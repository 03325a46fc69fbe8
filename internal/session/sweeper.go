package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/scheduler"
)

// DefaultSweepSchedule runs the sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

const sweepJobName = "session-sweep"

// Sweeper evicts stale sessions on a cron schedule.
type Sweeper struct {
	store    Store
	sched    *scheduler.Scheduler
	schedule string
	now      func() time.Time
}

// NewSweeper creates a sweeper for store. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(store Store, sched *scheduler.Scheduler, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{store: store, sched: sched, schedule: schedule, now: time.Now}
}

// Start registers the sweep job. Runs stop when ctx is done.
func (w *Sweeper) Start(ctx context.Context) error {
	_, err := w.sched.AddJob(sweepJobName, w.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		w.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	slog.Info("Sweeper.Start: session cleanup scheduled", "schedule", w.schedule)
	return nil
}

// RunOnce performs a single sweep and returns the number of evicted sessions.
func (w *Sweeper) RunOnce(ctx context.Context) int {
	removed, err := w.store.Sweep(ctx, w.now())
	if err != nil {
		slog.Error("Sweeper.RunOnce: sweep failed", "error", err, "removed", removed)
		return removed
	}
	if removed > 0 {
		slog.Info("Sweeper.RunOnce: evicted stale sessions", "removed", removed)
	}
	return removed
}

// Stop unregisters the sweep job.
func (w *Sweeper) Stop() {
	w.sched.RemoveJob(sweepJobName)
}
