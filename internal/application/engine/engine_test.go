package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/arena/internal/adapters/storage"
	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// fakeMarkets serves a fixed market set, like a frozen feed.
type fakeMarkets struct {
	markets []domain.Market
}

func (f *fakeMarkets) FetchActiveMarkets(_ context.Context, _ int) ([]domain.Market, error) {
	var active []domain.Market
	for _, m := range f.markets {
		if m.Status == domain.MarketActive {
			active = append(active, m)
		}
	}
	return active, nil
}

func (f *fakeMarkets) FetchMarketsByIDs(_ context.Context, ids []string) ([]domain.Market, error) {
	var out []domain.Market
	for _, id := range ids {
		for _, m := range f.markets {
			if m.ID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// fakeDecider returns scripted decisions, one per call.
type fakeDecider struct {
	fn    func(actx ports.AgentContext) (domain.AgentDecision, error)
	calls int
}

func (f *fakeDecider) Decide(_ context.Context, actx ports.AgentContext) (ports.DecisionOutcome, error) {
	f.calls++
	raw, _ := json.Marshal(actx)
	d, err := f.fn(actx)
	out := ports.DecisionOutcome{
		Decision:    d,
		RawRequest:  string(raw),
		RawResponse: "scripted",
		LatencyMS:   1,
	}
	return out, err
}

func betDecider(marketID, side string, amount, confidence float64) *fakeDecider {
	return &fakeDecider{fn: func(ports.AgentContext) (domain.AgentDecision, error) {
		return domain.AgentDecision{
			Action:        domain.ActionBet,
			MarketID:      marketID,
			Side:          side,
			Amount:        amount,
			Confidence:    confidence,
			HasConfidence: true,
		}, nil
	}}
}

func holdDecider() *fakeDecider {
	return &fakeDecider{fn: func(ports.AgentContext) (domain.AgentDecision, error) {
		return domain.AgentDecision{Action: domain.ActionHold, Reasoning: "waiting"}, nil
	}}
}

func binaryMarket(id string, price float64) domain.Market {
	return domain.Market{
		ID: id, Question: "q?", Type: domain.MarketBinary,
		Status: domain.MarketActive, Price: price, Volume24h: 1000,
		SyncedAt: time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T, markets ports.MarketData, decider ports.Decider) (*Engine, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.DecisionTimeout = 30 * time.Second
	eng := New(cfg, store, markets, decider, nil)
	return eng, store
}

func startCohortWithModels(t *testing.T, eng *Engine, store *storage.SQLiteStorage, modelIDs ...string) (domain.Cohort, []domain.Agent) {
	t.Helper()
	ctx := context.Background()
	models := make([]domain.Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		models = append(models, domain.Model{ID: id, Name: id, Active: true})
	}
	require.NoError(t, store.UpsertModels(ctx, models))

	cohort, agents, skip, err := eng.StartCohort(ctx, false)
	require.NoError(t, err)
	require.Empty(t, skip)
	require.NotNil(t, cohort)
	return *cohort, agents
}

func TestStartCohort_Preconditions(t *testing.T) {
	eng, store := newTestEngine(t, &fakeMarkets{}, holdDecider())
	ctx := context.Background()

	// no models yet
	_, _, skip, err := eng.StartCohort(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SkipNoActiveModels, skip)

	_, agents := startCohortWithModels(t, eng, store, "gpt-5", "claude-opus")
	assert.Len(t, agents, 2)
	assert.InDelta(t, 10_000.0, agents[0].Cash, 1e-9)

	// a second start is blocked while the first cohort is active
	_, _, skip, err = eng.StartCohort(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SkipActiveCohortExists, skip)

	// unless forced
	forced, _, skip, err := eng.StartCohort(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, skip)
	assert.Equal(t, 2, forced.Number)
}

func TestDecisionCycle_BetExecutes(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	decider := betDecider("mkt-1", "YES", 500, 0.65)
	eng, store := newTestEngine(t, markets, decider)
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Bets)
	assert.Zero(t, stats.Errors)

	ctx := context.Background()
	agent, err := store.Agent(ctx, agents[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 9_500.0, agent.Cash, 1e-9)

	open, err := store.OpenPositions(ctx, agents[0].ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 1250.0, open[0].Shares, 1e-6) // 500 / 0.40
	assert.Equal(t, domain.SideYes, open[0].Side)
}

func TestDecisionCycle_BetExceedingCashRejected(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 50_000, 0.9))
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, stats.Bets)

	open, err := store.OpenPositions(context.Background(), agents[0].ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDecisionCycle_TinyBetRejected(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 5, 0.9))
	startCohortWithModels(t, eng, store, "gpt-5")

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
}

func TestDecisionCycle_OversizedBetCapped(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.50)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 5_000, 0.8))
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Bets) // capped, not rejected

	agent, err := store.Agent(context.Background(), agents[0].ID)
	require.NoError(t, err)
	// 30% of 10000 = 3000 spent
	assert.InDelta(t, 7_000.0, agent.Cash, 1e-9)
}

func TestDecisionCycle_SellClosesPosition(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 500, 0.6))
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	// price moves up, the agent takes profit on everything
	markets.markets[0].Price = 0.60
	eng.decider = &fakeDecider{fn: func(ports.AgentContext) (domain.AgentDecision, error) {
		return domain.AgentDecision{
			Action: domain.ActionSell, MarketID: "mkt-1", Side: "YES",
		}, nil
	}}

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sells)

	ctx := context.Background()
	open, err := store.OpenPositions(ctx, agents[0].ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	agent, err := store.Agent(ctx, agents[0].ID)
	require.NoError(t, err)
	// 9500 + 1250 × 0.60 = 10250
	assert.InDelta(t, 10_250.0, agent.Cash, 1e-6)
}

func TestDecisionCycle_OverSellRejected(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 500, 0.6))
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	// the model asks to dump 2000 shares against the 1250 it holds
	eng.decider = &fakeDecider{fn: func(ports.AgentContext) (domain.AgentDecision, error) {
		return domain.AgentDecision{
			Action: domain.ActionSell, MarketID: "mkt-1", Side: "YES", Shares: 2000,
		}, nil
	}}

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, stats.Sells)

	ctx := context.Background()
	decs, err := store.DecisionsByAgent(ctx, agents[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Equal(t, domain.ActionSell, decs[0].Action)
	assert.Equal(t, "over_sell", decs[0].RejectReason)

	// position and balance untouched, so no trade was applied
	open, err := store.OpenPositions(ctx, agents[0].ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 1250.0, open[0].Shares, 1e-6)

	trades, err := store.BuyTradesByPosition(ctx, open[0].ID)
	require.NoError(t, err)
	assert.Len(t, trades, 1) // only the original buy

	agent, err := store.Agent(ctx, agents[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 9_500.0, agent.Cash, 1e-9)
}

func TestDecisionCycle_DeciderFailureIsolated(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	decider := &fakeDecider{fn: func(ports.AgentContext) (domain.AgentDecision, error) {
		return domain.AgentDecision{}, errors.New("model unreachable")
	}}
	eng, store := newTestEngine(t, markets, decider)
	startCohortWithModels(t, eng, store, "gpt-5", "claude-opus")

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Agents)
	assert.Equal(t, 2, stats.Errors)
	// retry budget: 1 + DecisionRetries attempts per agent
	assert.Equal(t, 2*(1+eng.cfg.DecisionRetries), decider.calls)
}

func TestDecisionCycle_BudgetExhaustion(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, holdDecider())
	eng.cfg.DecisionTimeout = time.Nanosecond
	startCohortWithModels(t, eng, store, "gpt-5", "claude-opus")

	stats, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.TimedOut)
	assert.Zero(t, stats.Agents)
}

func TestSnapshotSweep_IdempotentPerBucket(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 500, 0.6))
	startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	// pin time so both sweeps land in the same bucket
	fixed := time.Date(2026, 8, 29, 12, 3, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return fixed }

	first, err := eng.RunSnapshotSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Snapshots)
	assert.Zero(t, first.Skipped)

	second, err := eng.RunSnapshotSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Snapshots)
	assert.Equal(t, 1, second.Skipped)
}

func TestSnapshotSweep_FallbackPriceOnMissingMarket(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 500, 0.6))
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	// the feed starts reporting garbage; sweep degrades instead of failing
	ctx := context.Background()
	markets.markets[0].Price = -1

	stats, err := eng.RunSnapshotSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Zero(t, stats.Errors)

	open, err := store.OpenPositions(ctx, agents[0].ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].CurrentValue)
	// 1250 shares at the 0.5 fallback
	assert.InDelta(t, 625.0, *open[0].CurrentValue, 1e-6)
}

func TestSettlement_WinPaysOutAndScores(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 500, 0.40))
	cohort, agents := startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	markets.markets[0].Status = domain.MarketResolved
	markets.markets[0].Resolution = domain.SideYes
	markets.markets[0].Price = 1

	stats, err := eng.RunSettlement(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Settled)
	assert.Equal(t, 1, stats.BrierRows)
	assert.Equal(t, []int{cohort.Number}, stats.CohortsCompleted)

	ctx := context.Background()
	agent, err := store.Agent(ctx, agents[0].ID)
	require.NoError(t, err)
	// 9500 + 1250 shares × $1
	assert.InDelta(t, 10_750.0, agent.Cash, 1e-6)

	mean, count, err := store.Calibration(ctx, agents[0].ID)
	require.NoError(t, err)
	require.NotNil(t, mean)
	assert.InDelta(t, 0.36, *mean, 1e-9) // (0.40 − 1)²
	assert.Equal(t, 1, count)

	// repeating the pass changes nothing
	again, err := eng.RunSettlement(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Settled)

	agent, err = store.Agent(ctx, agents[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 10_750.0, agent.Cash, 1e-6)
}

func TestSettlement_CancelledRefundsWithoutScores(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.40)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 500, 0.7))
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	markets.markets[0].Status = domain.MarketCancelled

	stats, err := eng.RunSettlement(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Settled)
	assert.Zero(t, stats.BrierRows)

	ctx := context.Background()
	agent, err := store.Agent(ctx, agents[0].ID)
	require.NoError(t, err)
	// full refund of the $500 stake
	assert.InDelta(t, 10_000.0, agent.Cash, 1e-6)

	mean, count, err := store.Calibration(ctx, agents[0].ID)
	require.NoError(t, err)
	assert.Nil(t, mean)
	assert.Zero(t, count)
}

func TestSettlement_LossCanBankrupt(t *testing.T) {
	markets := &fakeMarkets{markets: []domain.Market{binaryMarket("mkt-1", 0.99)}}
	eng, store := newTestEngine(t, markets, betDecider("mkt-1", "YES", 10_000, 0.99))
	eng.cfg.MaxBetFraction = 1 // let the agent go all in
	_, agents := startCohortWithModels(t, eng, store, "gpt-5")

	_, err := eng.RunDecisionCycle(context.Background())
	require.NoError(t, err)

	markets.markets[0].Status = domain.MarketResolved
	markets.markets[0].Resolution = domain.SideNo
	markets.markets[0].Price = 0

	stats, err := eng.RunSettlement(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Bankruptcies)

	agent, err := store.Agent(context.Background(), agents[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentBankrupt, agent.Status)
	assert.InDelta(t, 0.0, agent.Cash, 1e-6)
}

func TestCheckCompletion_FreshCohortStaysActive(t *testing.T) {
	eng, store := newTestEngine(t, &fakeMarkets{}, holdDecider())
	startCohortWithModels(t, eng, store, "gpt-5")

	completed, err := eng.CheckCompletion(context.Background())
	require.NoError(t, err)
	assert.Empty(t, completed)

	latest, err := store.LatestCohort(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CohortActive, latest.Status)
}
