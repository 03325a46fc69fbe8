// Package status publishes the gateway connection state for the dashboard.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// DefaultHeartbeatSchedule refreshes lastSeen once a minute.
const DefaultHeartbeatSchedule = "@every 60s"

const heartbeatJobName = "bot-status-heartbeat"

// DefaultWriteTimeout bounds each status write.
const DefaultWriteTimeout = 10 * time.Second

// Reporter writes the bot status document of one agent.
type Reporter struct {
	store     store.StatusStore
	agentID   string
	agentName string
	now       func() time.Time
}

// NewReporter creates a Reporter for the given agent.
func NewReporter(st store.StatusStore, agentID, agentName string) *Reporter {
	return &Reporter{store: st, agentID: agentID, agentName: agentName, now: time.Now}
}

// SetStatus records a connection state change.
func (r *Reporter) SetStatus(ctx context.Context, status models.BotStatusType) error {
	err := r.store.SaveBotStatus(ctx, models.BotStatus{
		AgentID:   r.agentID,
		Status:    status,
		AgentName: r.agentName,
		LastSeen:  r.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save bot status: %w", err)
	}
	slog.Info("Reporter.SetStatus: bot status updated", "agentID", r.agentID, "status", status)
	return nil
}

// OnStatus adapts SetStatus to the gateway's status callback.
func (r *Reporter) OnStatus(status models.BotStatusType) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()
	if err := r.SetStatus(ctx, status); err != nil {
		slog.Error("Reporter.OnStatus: failed to record status", "error", err, "status", status)
	}
}

// Heartbeat refreshes lastSeen. A missing document is created as online.
func (r *Reporter) Heartbeat(ctx context.Context) error {
	err := r.store.TouchBotStatus(ctx, r.agentID, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return r.SetStatus(ctx, models.BotStatusOnline)
	}
	if err != nil {
		return fmt.Errorf("failed to refresh bot status: %w", err)
	}
	return nil
}

// StartHeartbeat schedules Heartbeat. An empty schedule uses DefaultHeartbeatSchedule.
func (r *Reporter) StartHeartbeat(ctx context.Context, sched *scheduler.Scheduler, schedule string) error {
	if schedule == "" {
		schedule = DefaultHeartbeatSchedule
	}
	_, err := sched.AddJob(heartbeatJobName, schedule, func() {
		if ctx.Err() != nil {
			return
		}
		hbCtx, cancel := context.WithTimeout(ctx, DefaultWriteTimeout)
		defer cancel()
		if err := r.Heartbeat(hbCtx); err != nil {
			slog.Warn("Reporter.Heartbeat: failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	slog.Info("Reporter.StartHeartbeat: heartbeat scheduled", "schedule", schedule)
	return nil
}

// StopHeartbeat unregisters the heartbeat job.
func (r *Reporter) StopHeartbeat(sched *scheduler.Scheduler) {
	sched.RemoveJob(heartbeatJobName)
}
