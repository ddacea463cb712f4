package main

// One function per single-shot mode, plus the daemon loop. main parses flags,
// these functions do the work.

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/arena/config"
	"github.com/alejandrodnm/arena/internal/application/engine"
	"github.com/alejandrodnm/arena/internal/scheduler"
	"github.com/alejandrodnm/arena/internal/transport/httpapi"
)

func runCycle(ctx context.Context, eng *engine.Engine) error {
	_, err := eng.RunDecisionCycle(ctx)
	return err
}

func runSnapshot(ctx context.Context, eng *engine.Engine) error {
	_, err := eng.RunSnapshotSweep(ctx)
	return err
}

func runSettle(ctx context.Context, eng *engine.Engine) error {
	_, err := eng.RunSettlement(ctx)
	return err
}

func runStartCohort(ctx context.Context, eng *engine.Engine, force bool) error {
	cohort, agents, skip, err := eng.StartCohort(ctx, force)
	if err != nil {
		return err
	}
	if skip != "" {
		slog.Info("no cohort started", "reason", skip)
		return nil
	}
	slog.Info("cohort ready", "cohort", cohort.Number, "agents", len(agents))
	return nil
}

func runReport(ctx context.Context, eng *engine.Engine) error {
	rows, err := eng.Leaderboard(ctx)
	if err != nil {
		return err
	}
	if rows == nil {
		slog.Info("no cohorts yet")
	}
	return nil
}

// runDaemon registers the recurring jobs and blocks until the context is
// cancelled. With serve set, the manual-trigger HTTP API runs alongside.
func runDaemon(ctx context.Context, cfg *config.Config, eng *engine.Engine, serve bool) error {
	sched := scheduler.New(ctx)

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Schedule.Cohort, scheduler.Job{Name: "cohort_start", Run: func(ctx context.Context) error {
			_, _, _, err := eng.StartCohort(ctx, false)
			return err
		}}},
		{cfg.Schedule.Cycle, scheduler.Job{Name: "decision_cycle", Run: runCycleJob(eng)}},
		{cfg.Schedule.Snapshot, scheduler.Job{Name: "snapshot_sweep", Run: func(ctx context.Context) error {
			_, err := eng.RunSnapshotSweep(ctx)
			return err
		}}},
		{cfg.Schedule.Settlement, scheduler.Job{Name: "settlement", Run: func(ctx context.Context) error {
			_, err := eng.RunSettlement(ctx)
			return err
		}}},
	}
	for _, j := range jobs {
		if err := sched.Add(j.schedule, j.job); err != nil {
			return err
		}
	}

	sched.Start()
	defer sched.Stop()

	if serve {
		srv := httpapi.NewServer(cfg.Server.Addr, eng)
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

func runCycleJob(eng *engine.Engine) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := eng.RunDecisionCycle(ctx)
		return err
	}
}
