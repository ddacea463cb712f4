package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// CycleStats is the rollup of one decision cycle.
type CycleStats struct {
	Cohorts  int
	Agents   int
	Bets     int
	Sells    int
	Holds    int
	Rejected int
	Errors   int
	TimedOut bool
	Duration time.Duration
}

// RunDecisionCycle runs one decision round for every active agent of every
// active cohort. The whole cycle shares one wall-clock budget; when it runs
// out, agents already processed keep their results and the rest are skipped.
// Per-agent failures are isolated: one broken agent never aborts the cycle.
func (e *Engine) RunDecisionCycle(ctx context.Context) (CycleStats, error) {
	start := e.now()

	e.syncMarketsBestEffort(ctx)

	cohorts, err := e.store.ActiveCohorts(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("engine.RunDecisionCycle: %w", err)
	}
	eligible, err := e.store.EligibleMarkets(ctx, e.cfg.MarketLimit)
	if err != nil {
		return CycleStats{}, fmt.Errorf("engine.RunDecisionCycle: %w", err)
	}

	// only the agent loop runs on the budget; results already committed
	// survive an exhausted budget
	budget, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	var stats CycleStats
	stats.Cohorts = len(cohorts)

loop:
	for _, cohort := range cohorts {
		agents, err := e.store.AgentsByCohort(ctx, cohort.ID)
		if err != nil {
			return stats, fmt.Errorf("engine.RunDecisionCycle: cohort %d: %w", cohort.Number, err)
		}
		for _, agent := range agents {
			if budget.Err() != nil {
				stats.TimedOut = true
				slog.Warn("decision cycle budget exhausted",
					"cohort", cohort.Number, "processed", stats.Agents)
				break loop
			}
			if agent.Status != domain.AgentActive {
				continue
			}
			out, err := e.runAgent(budget, agent, eligible)
			if err != nil {
				stats.Errors++
				slog.Error("agent cycle failed", "agent", agent.ID, "err", err)
				continue
			}
			stats.Agents++
			switch {
			case out.rejected:
				stats.Rejected++
			case out.action == domain.ActionBet:
				stats.Bets++
			case out.action == domain.ActionSell:
				stats.Sells++
			case out.action == domain.ActionHold:
				stats.Holds++
			default:
				stats.Errors++
			}
		}
	}

	stats.Duration = e.now().Sub(start)
	summary := ports.RunSummary{
		Kind:             "decision_cycle",
		CohortsProcessed: stats.Cohorts,
		AgentsProcessed:  stats.Agents,
		Errors:           stats.Errors,
		Duration:         stats.Duration,
	}
	if stats.TimedOut {
		summary.Notes = append(summary.Notes, "wall-clock budget exhausted, partial cycle")
	}
	// the cycle budget may be spent; the summary still goes out
	e.notifyRun(context.WithoutCancel(ctx), summary)
	slog.Info("decision cycle done",
		"cohorts", stats.Cohorts, "agents", stats.Agents,
		"bets", stats.Bets, "sells", stats.Sells, "holds", stats.Holds,
		"rejected", stats.Rejected, "errors", stats.Errors,
		"timed_out", stats.TimedOut, "took", stats.Duration)
	return stats, nil
}
