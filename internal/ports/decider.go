package ports

import (
	"context"

	"github.com/alejandrodnm/arena/internal/domain"
)

// PositionContext is an open position as presented to the model.
type PositionContext struct {
	MarketID      string  `json:"market_id"`
	Question      string  `json:"question"`
	Side          string  `json:"side"`
	Shares        float64 `json:"shares"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// MarketContext is an eligible market as presented to the model.
type MarketContext struct {
	MarketID string             `json:"market_id"`
	Question string             `json:"question"`
	Type     string             `json:"type"`
	YesPrice float64            `json:"yes_price,omitempty"`
	Outcomes map[string]float64 `json:"outcomes,omitempty"`
	EndDate  string             `json:"end_date,omitempty"`
}

// AgentContext is the full context payload for one decision request. It is
// serialized verbatim onto the Decision audit row.
type AgentContext struct {
	AgentID   int64             `json:"agent_id"`
	Model     string            `json:"model"`
	Cash      float64           `json:"cash"`
	Positions []PositionContext `json:"open_positions"`
	Markets   []MarketContext   `json:"eligible_markets"`
}

// DecisionOutcome carries the raw exchange alongside the parsed decision.
// RawRequest/RawResponse are populated even when parsing failed, so the audit
// record is complete regardless of outcome.
type DecisionOutcome struct {
	Decision         domain.AgentDecision
	RawRequest       string
	RawResponse      string
	LatencyMS        int64
	PromptTokens     int
	CompletionTokens int
}

// Decider is the external model collaborator. A non-nil error means the
// outcome could not be parsed or the call failed; the executor owns the retry
// budget.
type Decider interface {
	Decide(ctx context.Context, actx AgentContext) (DecisionOutcome, error)
}
