package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// SweepStats is the rollup of one snapshot sweep.
type SweepStats struct {
	Agents    int
	Snapshots int
	Skipped   int // (agent, bucket) rows that already existed
	Fallbacks int // positions valued at the fallback price
	Errors    int
	Duration  time.Duration
}

// RunSnapshotSweep marks every open position to market and persists one
// portfolio snapshot per agent for the current time bucket. Missing or invalid
// prices degrade to the fallback price with a warning; a data-quality fault on
// one market never blocks the sweep. Re-running within the same bucket is a
// no-op per agent.
func (e *Engine) RunSnapshotSweep(ctx context.Context) (SweepStats, error) {
	start := e.now()
	bucket := start.Truncate(e.cfg.SnapshotInterval)

	e.syncMarketsBestEffort(ctx)

	cohorts, err := e.store.ActiveCohorts(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("engine.RunSnapshotSweep: %w", err)
	}

	var stats SweepStats
	for _, cohort := range cohorts {
		agents, err := e.store.AgentsByCohort(ctx, cohort.ID)
		if err != nil {
			return stats, fmt.Errorf("engine.RunSnapshotSweep: cohort %d: %w", cohort.Number, err)
		}
		for _, agent := range agents {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("engine.RunSnapshotSweep: %w", err)
			}
			if err := e.snapshotAgent(ctx, cohort, agent, bucket, &stats); err != nil {
				stats.Errors++
				slog.Error("agent snapshot failed", "agent", agent.ID, "err", err)
			}
		}
	}

	stats.Duration = e.now().Sub(start)
	e.notifyRun(ctx, ports.RunSummary{
		Kind:             "snapshot_sweep",
		CohortsProcessed: len(cohorts),
		AgentsProcessed:  stats.Agents,
		Errors:           stats.Errors,
		Duration:         stats.Duration,
	})
	slog.Info("snapshot sweep done", "bucket", bucket,
		"agents", stats.Agents, "snapshots", stats.Snapshots,
		"skipped", stats.Skipped, "fallbacks", stats.Fallbacks,
		"errors", stats.Errors, "took", stats.Duration)
	return stats, nil
}

func (e *Engine) snapshotAgent(ctx context.Context, cohort domain.Cohort, agent domain.Agent, bucket time.Time, stats *SweepStats) error {
	// Resolve mark prices up front; the snapshot transaction re-reads cash
	// and positions itself and must not issue further store calls while it
	// holds the connection. A position opened after this read simply falls
	// back to the neutral price for this tick.
	positions, err := e.store.OpenPositions(ctx, agent.ID)
	if err != nil {
		return err
	}
	prices := make(map[string]float64, len(positions))
	for _, p := range positions {
		m, err := e.store.Market(ctx, p.MarketID)
		if err != nil {
			return err
		}
		if m != nil {
			if price, ok := m.SidePrice(p.Side); ok {
				prices[p.MarketID+"/"+p.Side] = price
			}
		}
	}

	result, err := e.store.TakeSnapshot(ctx, ports.SnapshotExecution{
		AgentID:        agent.ID,
		Bucket:         bucket,
		InitialBalance: cohort.InitialBalance,
		At:             e.now(),
		PriceFor: func(marketID, side string) (float64, bool) {
			price, ok := prices[marketID+"/"+side]
			if !ok {
				slog.Warn("price unavailable, using fallback",
					"agent", agent.ID, "market", marketID, "side", side)
			}
			return price, ok
		},
	})
	if err != nil {
		return err
	}
	stats.Agents++
	stats.Fallbacks += result.Fallbacks
	if result.Inserted {
		stats.Snapshots++
	} else {
		stats.Skipped++
	}
	return nil
}
