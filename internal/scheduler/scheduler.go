// Package scheduler triggers harvest runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/julienvalera/velib-harvester/internal/service"
)

// Runner executes one harvest run. *service.HarvestService implements it.
type Runner interface {
	Run(ctx context.Context) (service.RunResult, error)
}

// Scheduler runs a Runner every interval. Runs never overlap: a tick that fires while
// the previous run is still executing waits for it.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	runner     Runner
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. loc is the zone gocron evaluates the schedule in.
func New(runner Runner, interval time.Duration, loc *time.Location, runOnStart bool, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:  s,
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. Runs use a context
// derived from ctx, so cancelling ctx aborts the run in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", s.interval)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if !s.runOnStart {
		s.scheduler.WaitForScheduleAll()
	}
	if _, err := s.scheduler.Every(s.interval).Do(s.runJob); err != nil {
		s.cancel()
		return fmt.Errorf("scheduler: schedule harvest: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart))
	return nil
}

// Stop stops the scheduler so no new run starts. A run in progress keeps its context;
// call Abort to cancel it.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Abort cancels the context of the run in progress, if any.
func (s *Scheduler) Abort() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) runJob() {
	if err := s.ctx.Err(); err != nil {
		return
	}
	_, err := s.runner.Run(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrRunInProgress):
		s.logger.Debug("scheduled run skipped: run in progress")
	case errors.Is(err, service.ErrShuttingDown):
		s.logger.Debug("scheduled run skipped: shutting down")
	default:
		s.logger.Warn("scheduled run failed", zap.Error(err))
	}
}
