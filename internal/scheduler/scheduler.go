// Package scheduler drives the periodic serve-mode jobs: station list
// refresh and snapshot export. Reconciliation is deliberately not scheduled
// here; an external scheduler owns reconcile and sweep timing.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job is one named periodic task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler periodically runs the configured jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      []Job
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler running each job every interval.
func New(jobs []Job, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.logger.Info("no jobs configured, nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		for _, job := range s.jobs {
			start := time.Now()
			s.logger.Info("running job", zap.String("job", job.Name))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			err := job.Run(ctx)
			cancel()

			if err != nil {
				s.logger.Error("job failed",
					zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
				continue
			}
			s.logger.Info("job completed",
				zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)))
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
