// Package scheduler triggers automatic pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "vtcal/internal/log"
	"vtcal/internal/pipeline"
)

// Runner is the part of the pipeline the scheduler drives.
type Runner interface {
	Run(ctx context.Context, trigger pipeline.Trigger) (*pipeline.Result, error)
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron, or descriptors such as
// "@every 30m") and registers an automatic run for it.
func New(spec string, runner Runner, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	res, err := s.runner.Run(s.ctx, pipeline.TriggerAuto)
	switch {
	case errors.Is(err, pipeline.ErrRunInFlight):
		appLog.Debug("scheduled refresh skipped, run in flight")
	case errors.Is(err, pipeline.ErrSuperseded), errors.Is(err, context.Canceled):
		appLog.Debug("scheduled refresh cancelled")
	case err != nil:
		appLog.Error("scheduled refresh failed", err)
	default:
		appLog.Info("scheduled refresh done", "run_id", res.ID, "new", len(res.New))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		appLog.Info("scheduler started", "next", e.Next)
	}
}

// Next returns the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels an in-progress run and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}
