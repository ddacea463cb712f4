package engine

// lifecycle.go: cohort start and completion. Both are idempotent; a start
// that finds nothing to do and a completion check that finds nothing finished
// are normal outcomes, not errors.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// Skip reasons returned by StartCohort when no cohort was created.
const (
	SkipActiveCohortExists = "active_cohort_exists"
	SkipNoActiveModels     = "no_active_models"
)

// StartCohort creates a new cohort with one agent per active model, each
// seeded with the configured initial balance. Unless force is set, an already
// active cohort blocks the start; the skip reason says why nothing happened.
func (e *Engine) StartCohort(ctx context.Context, force bool) (*domain.Cohort, []domain.Agent, string, error) {
	if !force {
		active, err := e.store.ActiveCohorts(ctx)
		if err != nil {
			return nil, nil, "", fmt.Errorf("engine.StartCohort: %w", err)
		}
		if len(active) > 0 {
			slog.Info("cohort start skipped", "reason", SkipActiveCohortExists,
				"active_cohort", active[0].Number)
			return nil, nil, SkipActiveCohortExists, nil
		}
	}

	models, err := e.store.ActiveModels(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("engine.StartCohort: %w", err)
	}
	if len(models) == 0 {
		slog.Warn("cohort start skipped", "reason", SkipNoActiveModels)
		return nil, nil, SkipNoActiveModels, nil
	}

	cohort, agents, err := e.store.CreateCohort(ctx, domain.Cohort{
		StartedAt:      e.now(),
		Methodology:    e.cfg.Methodology,
		InitialBalance: e.cfg.InitialBalance,
	}, models)
	if err != nil {
		return nil, nil, "", fmt.Errorf("engine.StartCohort: %w", err)
	}

	slog.Info("cohort started", "cohort", cohort.Number,
		"agents", len(agents), "initial_balance", cohort.InitialBalance,
		"methodology", cohort.Methodology)
	return &cohort, agents, "", nil
}

// CheckCompletion completes every active cohort whose agents hold no open
// positions. A cohort that never opened a position stays active: completing a
// competition nobody entered would be vacuous. Returns the numbers of cohorts
// completed on this invocation; repeats are no-ops.
func (e *Engine) CheckCompletion(ctx context.Context) ([]int, error) {
	cohorts, err := e.store.ActiveCohorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.CheckCompletion: %w", err)
	}

	var completed []int
	for _, cohort := range cohorts {
		total, open, err := e.store.PositionCounts(ctx, cohort.ID)
		if err != nil {
			return completed, fmt.Errorf("engine.CheckCompletion: cohort %d: %w", cohort.Number, err)
		}
		if total == 0 || open > 0 {
			continue
		}
		ok, err := e.store.CompleteCohort(ctx, cohort.ID, e.now())
		if err != nil {
			return completed, fmt.Errorf("engine.CheckCompletion: cohort %d: %w", cohort.Number, err)
		}
		if ok {
			completed = append(completed, cohort.Number)
			slog.Info("cohort completed", "cohort", cohort.Number)
		}
	}
	return completed, nil
}

// Leaderboard returns the standings of the latest cohort and pushes them to
// the notifier when one is configured.
func (e *Engine) Leaderboard(ctx context.Context) ([]ports.LeaderboardRow, error) {
	cohort, err := e.store.LatestCohort(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.Leaderboard: %w", err)
	}
	if cohort == nil {
		return nil, nil
	}
	rows, err := e.store.Leaderboard(ctx, cohort.ID)
	if err != nil {
		return nil, fmt.Errorf("engine.Leaderboard: %w", err)
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyLeaderboard(ctx, rows); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	return rows, nil
}
