package web

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"autoshift/internal/automation"
	appLog "autoshift/internal/log"
	"autoshift/internal/schedule"
)

// Scheduler starts a run covering [today, today+horizon] on a cron schedule.
// A tick that lands while a run is active is dropped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	horizon int
	now     func() time.Time

	ctx context.Context
}

// NewScheduler validates spec (standard 5-field cron) and returns a stopped
// Scheduler.
func NewScheduler(spec string, horizonDays int, runner Runner) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		horizon: horizonDays,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.Trigger); err != nil {
		return nil, fmt.Errorf("invalid schedule.cron %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler until ctx is cancelled. Runs it starts inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		appLog.Info("scheduler: next run", "at", e.Next.Format(time.RFC3339))
	}
}

// Stop halts the schedule and waits for a tick in progress to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Request is the run a tick at now would start.
func (s *Scheduler) Request(now time.Time) automation.RunRequest {
	return automation.RunRequest{
		Start: now.Format(schedule.DateLayout),
		End:   now.AddDate(0, 0, s.horizon).Format(schedule.DateLayout),
	}
}

// Trigger starts one scheduled run.
func (s *Scheduler) Trigger() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req := s.Request(s.now())
	runID, err := s.runner.Start(ctx, req)
	switch {
	case errors.Is(err, automation.ErrRunInProgress):
		appLog.Info("scheduler: run already in progress, skipping tick")
	case err != nil:
		appLog.Error("scheduler: failed to start run", err)
	default:
		appLog.Info("scheduler: run started", "run", runID, "start", req.Start, "end", req.End)
	}
}
