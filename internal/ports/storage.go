package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
)

// TradeExecution bundles one trade's writes into a single atomic unit:
// position upsert + agent cash update + trade insert. Partial application
// must never be observable.
type TradeExecution struct {
	// Position is the post-trade state. ID 0 means insert a new row.
	Position domain.Position
	Trade    domain.Trade
	// CashDelta is applied to the agent's balance: negative for BUY,
	// positive for SELL. The store rejects deltas that would drive the
	// balance negative.
	CashDelta float64
}

// SettlementExecution bundles one position's terminal accounting: position
// update + cash credit + Brier score inserts, one transaction.
type SettlementExecution struct {
	// Position is the post-settlement state (status settled).
	Position   domain.Position
	CashCredit float64
	Scores     []domain.BrierScore
}

// SnapshotExecution captures one agent's portfolio for one bucket. The store
// runs it as a single transaction: cash and open positions are re-read inside
// the transaction, so a concurrent trade or settlement commits strictly
// before or strictly after the snapshot, never in between.
type SnapshotExecution struct {
	AgentID        int64
	Bucket         time.Time
	InitialBalance float64
	// PriceFor resolves the mark price for one open position. ok=false
	// degrades to the neutral fallback price and is counted in the result.
	// Must not call back into the store: it runs while the snapshot
	// transaction holds the connection.
	PriceFor func(marketID, side string) (price float64, ok bool)
	At       time.Time
}

// SnapshotResult reports what one SnapshotExecution did.
type SnapshotResult struct {
	Inserted  bool // false when the (agent, bucket) row already existed
	Fallbacks int
}

// LeaderboardRow is one agent's aggregate standing within a cohort.
type LeaderboardRow struct {
	CohortNumber    int      `json:"cohort_number"`
	AgentID         int64    `json:"agent_id"`
	ModelID         string   `json:"model_id"`
	ModelName       string   `json:"model_name"`
	Status          string   `json:"status"`
	Cash            float64  `json:"cash"`
	PositionsValue  float64  `json:"positions_value"`
	TotalValue      float64  `json:"total_value"`
	TotalPnL        float64  `json:"total_pnl"`
	TotalPnLPercent float64  `json:"total_pnl_percent"`
	BrierMean       *float64 `json:"brier_mean"` // nil → rendered as N/A downstream
	ResolvedBets    int      `json:"resolved_bets"`
}

// Storage is the persistence boundary of the engine. Implementations must
// provide atomic multi-row writes and the unique constraints on
// cohorts(number), agents(cohort, model), positions(agent, market, side) and
// snapshots(agent, bucket).
type Storage interface {
	// Models: append-only registry.
	UpsertModels(ctx context.Context, models []domain.Model) error
	ActiveModels(ctx context.Context) ([]domain.Model, error)

	// Cohorts and agents. CreateCohort assigns the next sequential number
	// and creates one agent per model, all in one transaction.
	CreateCohort(ctx context.Context, cohort domain.Cohort, models []domain.Model) (domain.Cohort, []domain.Agent, error)
	ActiveCohorts(ctx context.Context) ([]domain.Cohort, error)
	LatestCohort(ctx context.Context) (*domain.Cohort, error)
	// CompleteCohort transitions active → completed. Returns false when the
	// cohort was not active (safe no-op on repeat invocations).
	CompleteCohort(ctx context.Context, cohortID int64, at time.Time) (bool, error)
	AgentsByCohort(ctx context.Context, cohortID int64) ([]domain.Agent, error)
	Agent(ctx context.Context, agentID int64) (*domain.Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID int64, status domain.AgentStatus) error

	// Market mirror.
	UpsertMarkets(ctx context.Context, markets []domain.Market) error
	Market(ctx context.Context, id string) (*domain.Market, error)
	EligibleMarkets(ctx context.Context, limit int) ([]domain.Market, error)
	// MarketIDsWithExposure lists markets still referenced by unsettled
	// positions, so the sync step can refresh their status/resolution.
	MarketIDsWithExposure(ctx context.Context) ([]string, error)
	// ResolvedMarketsWithExposure lists resolved or cancelled markets that
	// still have unsettled positions, i.e. the settlement worklist.
	ResolvedMarketsWithExposure(ctx context.Context) ([]domain.Market, error)

	// Positions.
	OpenPositions(ctx context.Context, agentID int64) ([]domain.Position, error)
	OpenPositionByMarketSide(ctx context.Context, agentID int64, marketID, side string) (*domain.Position, error)
	UnsettledPositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error)
	// PositionCounts returns (total ever opened, currently open) for a cohort.
	PositionCounts(ctx context.Context, cohortID int64) (total, open int, err error)

	// Decisions and trades. DecisionsByAgent returns the newest rows first.
	SaveDecision(ctx context.Context, d domain.Decision) error
	DecisionsByAgent(ctx context.Context, agentID int64, limit int) ([]domain.Decision, error)
	ExecuteTrade(ctx context.Context, exec TradeExecution) (domain.Position, domain.Trade, error)
	BuyTradesByPosition(ctx context.Context, positionID int64) ([]domain.Trade, error)

	// SettlePosition applies a SettlementExecution. Returns false when the
	// position was already settled (idempotent no-op).
	SettlePosition(ctx context.Context, exec SettlementExecution) (bool, error)

	// TakeSnapshot revalues an agent's open positions and appends one
	// portfolio snapshot, atomically with respect to ExecuteTrade and
	// SettlePosition. Re-running for the same bucket still revalues but
	// inserts no row.
	TakeSnapshot(ctx context.Context, exec SnapshotExecution) (SnapshotResult, error)
	Leaderboard(ctx context.Context, cohortID int64) ([]LeaderboardRow, error)

	Close() error
}
