package engine

// settlement.go: resolution discovery and terminal accounting. For every
// resolved or cancelled market with unsettled positions, settle each position,
// credit the payout and write the Brier rows, then flip bankrupt agents and
// check cohort completion.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// SettlementStats is the rollup of one settlement pass.
type SettlementStats struct {
	Markets          int
	Settled          int
	AlreadySettled   int
	BrierRows        int
	Bankruptcies     int
	CohortsCompleted []int // cohort numbers
	Errors           int
	Duration         time.Duration
}

// RunSettlement settles every position exposed to a resolved or cancelled
// market. Winning positions pay out par value per share, losing positions pay
// zero, cancelled markets refund the remaining cost basis. Each settled BUY
// trade gets one Brier score; cancelled markets get none, since no outcome
// exists to score against. The pass is idempotent end to end.
func (e *Engine) RunSettlement(ctx context.Context) (SettlementStats, error) {
	start := e.now()

	e.syncMarketsBestEffort(ctx)

	worklist, err := e.store.ResolvedMarketsWithExposure(ctx)
	if err != nil {
		return SettlementStats{}, fmt.Errorf("engine.RunSettlement: %w", err)
	}

	var stats SettlementStats
	stats.Markets = len(worklist)
	for _, market := range worklist {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("engine.RunSettlement: %w", err)
		}
		if err := e.settleMarket(ctx, market, &stats); err != nil {
			stats.Errors++
			slog.Error("market settlement failed", "market", market.ID, "err", err)
		}
	}

	if err := e.markBankruptcies(ctx, &stats); err != nil {
		stats.Errors++
		slog.Error("bankruptcy pass failed", "err", err)
	}

	completed, err := e.CheckCompletion(ctx)
	if err != nil {
		stats.Errors++
		slog.Error("completion check failed", "err", err)
	}
	stats.CohortsCompleted = completed

	stats.Duration = e.now().Sub(start)
	summary := ports.RunSummary{
		Kind:            "settlement",
		AgentsProcessed: stats.Settled,
		Errors:          stats.Errors,
		Duration:        stats.Duration,
	}
	for _, n := range completed {
		summary.Notes = append(summary.Notes, fmt.Sprintf("cohort %d completed", n))
	}
	e.notifyRun(ctx, summary)
	slog.Info("settlement done", "markets", stats.Markets,
		"settled", stats.Settled, "brier_rows", stats.BrierRows,
		"bankruptcies", stats.Bankruptcies, "completed", stats.CohortsCompleted,
		"errors", stats.Errors, "took", stats.Duration)
	return stats, nil
}

func (e *Engine) settleMarket(ctx context.Context, market domain.Market, stats *SettlementStats) error {
	positions, err := e.store.UnsettledPositionsByMarket(ctx, market.ID)
	if err != nil {
		return err
	}
	now := e.now()

	for _, pos := range positions {
		var (
			terminal float64
			credit   float64
			scores   []domain.BrierScore
		)
		switch market.Status {
		case domain.MarketCancelled:
			// void market: refund what is still invested, no forecast to score
			terminal = pos.TotalCost
			credit = pos.TotalCost
		default:
			won := market.SideWon(pos.Side)
			terminal, _ = pos.SettleValue(won)
			credit = terminal

			outcome := 0
			if won {
				outcome = 1
			}
			trades, err := e.store.BuyTradesByPosition(ctx, pos.ID)
			if err != nil {
				return err
			}
			for _, t := range trades {
				forecast := t.Price
				if t.ImpliedConfidence != nil {
					forecast = *t.ImpliedConfidence
				}
				scores = append(scores, domain.BrierScore{
					AgentID:   pos.AgentID,
					TradeID:   t.ID,
					MarketID:  market.ID,
					Forecast:  domain.Clamp01(forecast),
					Outcome:   outcome,
					Score:     domain.Brier(forecast, outcome),
					CreatedAt: now,
				})
			}
		}

		pos.MarkSettled(terminal, now)
		settled, err := e.store.SettlePosition(ctx, ports.SettlementExecution{
			Position:   pos,
			CashCredit: credit,
			Scores:     scores,
		})
		if err != nil {
			return err
		}
		if !settled {
			stats.AlreadySettled++
			continue
		}
		stats.Settled++
		stats.BrierRows += len(scores)
		slog.Info("position settled", "agent", pos.AgentID, "market", market.ID,
			"side", pos.Side, "terminal_value", terminal,
			"market_status", market.Status)
	}
	return nil
}

// markBankruptcies flips agents that can no longer act: below the minimum bet
// with nothing left on the board. Status only; history stays intact.
func (e *Engine) markBankruptcies(ctx context.Context, stats *SettlementStats) error {
	cohorts, err := e.store.ActiveCohorts(ctx)
	if err != nil {
		return err
	}
	for _, cohort := range cohorts {
		agents, err := e.store.AgentsByCohort(ctx, cohort.ID)
		if err != nil {
			return err
		}
		for _, agent := range agents {
			if agent.Status != domain.AgentActive || agent.Cash >= e.cfg.MinBetUSD {
				continue
			}
			open, err := e.store.OpenPositions(ctx, agent.ID)
			if err != nil {
				return err
			}
			if len(open) > 0 {
				continue
			}
			if err := e.store.UpdateAgentStatus(ctx, agent.ID, domain.AgentBankrupt); err != nil {
				return err
			}
			stats.Bankruptcies++
			slog.Warn("agent bankrupt", "agent", agent.ID,
				"model", agent.ModelID, "cash", agent.Cash)
		}
	}
	return nil
}
