package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled engine run.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler drives the engine's recurring work: decision cycles, snapshot
// sweeps, settlement passes and cohort starts.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler whose jobs run against the given base context.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ctx:  ctx,
	}
}

// Add registers a job under a cron expression ("@hourly", "@every 10m",
// "0 12 * * MON", ...). Job failures are logged, never fatal.
func (s *Scheduler) Add(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		slog.Debug("job starting", "job", job.Name)
		if err := job.Run(s.ctx); err != nil {
			slog.Error("job failed", "job", job.Name, "err", err)
			return
		}
		slog.Debug("job done", "job", job.Name)
	})
	if err != nil {
		return err
	}
	slog.Info("job registered", "job", job.Name, "schedule", schedule)
	return nil
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}
