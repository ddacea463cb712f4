package domain

import "time"

// Action is the tagged decision variant returned by the model collaborator.
// Anything that fails validation collapses to ActionError.
type Action string

const (
	ActionBet   Action = "BET"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionError Action = "ERROR"
)

// AgentDecision is the parsed, typed form of one model response. Untrusted
// until validated by the executor.
type AgentDecision struct {
	Action        Action
	MarketID      string
	Side          string
	Amount        float64 // USD to bet (BET)
	Shares        float64 // shares to sell (SELL)
	Confidence    float64 // stated probability the side wins, 0–1
	HasConfidence bool
	Reasoning     string
}

// Decision is the immutable audit record of one agent's cycle outcome:
// verbatim request and response, parsed action, timing and token metadata.
// Never mutated after creation.
type Decision struct {
	ID               string // uuid
	AgentID          int64
	Action           Action
	MarketID         string
	Side             string
	Amount           float64
	Confidence       *float64
	Reasoning        string
	RequestContext   string // verbatim JSON sent to the model
	RawResponse      string // verbatim model output
	RetryCount       int
	LatencyMS        int64
	PromptTokens     int
	CompletionTokens int
	ErrorDetail      string // parse/transport failure, action ERROR only
	RejectReason     string // policy rejection, no trade executed
	CreatedAt        time.Time
}

// TradeType distinguishes the two executed trade kinds.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Trade is an executed BUY or SELL, linked to the Decision that caused it and
// the Position it affected.
type Trade struct {
	ID         int64
	AgentID    int64
	PositionID int64
	DecisionID string
	MarketID   string
	Side       string
	Type       TradeType
	Shares     float64
	Price      float64
	Amount     float64 // shares × price

	// BUY only: the forecast probability used later for calibration. The
	// decision's stated confidence clamped to [0,1], or the execution price
	// when the model gave none.
	ImpliedConfidence *float64

	// SELL only.
	CostBasisRemoved *float64
	RealizedPnL      *float64

	CreatedAt time.Time
}
