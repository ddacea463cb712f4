package domain

import "time"

// PortfolioSnapshot is one mark-to-market row per agent per sweep tick.
// Append-only, unique per (agent, bucket).
type PortfolioSnapshot struct {
	ID              int64
	AgentID         int64
	Bucket          time.Time // sweep timestamp truncated to the snapshot interval
	Cash            float64
	PositionsValue  float64
	TotalValue      float64
	TotalPnL        float64
	TotalPnLPercent float64
	BrierMean       *float64 // nil until the agent has resolved bets
	ResolvedBets    int
	CreatedAt       time.Time
}
