// Package scheduler runs LeadPipe's periodic maintenance jobs, such as the
// session sweep and the bot status heartbeat, on cron expressions.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// JobID identifies a scheduled job so it can be removed later.
type JobID = cron.EntryID

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]JobID
}

// NewScheduler creates and starts a cron scheduler.
// Expressions use the standard 5-field form or descriptors such as "@every 5m".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, jobs: make(map[string]JobID)}
}

// AddJob schedules a named task using the provided cron expression.
// Re-adding a name replaces the previous job. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) (JobID, error) {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		slog.Error("Scheduler.AddJob: invalid schedule", "job", name, "expr", expr, "error", err)
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.mu.Lock()
	if prev, ok := s.jobs[name]; ok {
		s.cron.Remove(prev)
	}
	s.jobs[name] = id
	s.mu.Unlock()

	slog.Debug("Scheduler.AddJob: scheduled", "job", name, "expr", expr, "id", id)
	return id, nil
}

// RemoveJob unschedules a named job. Unknown names are ignored.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
		slog.Debug("Scheduler.RemoveJob: removed", "job", name)
	}
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
