package domain

import "time"

// PositionStatus lifecycle: open → closed (sold out) or open/closed → settled
// (market resolved).
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosed  PositionStatus = "closed"
	PositionSettled PositionStatus = "settled"
)

// sharesEpsilon treats residual share counts below this as zero when reducing
// a position, so float accumulation can't keep a position open forever.
const sharesEpsilon = 1e-9

// Position is an agent's stake in one side of one market. Unique per
// (agent, market, side) while open.
//
// Invariant: TotalCost == Shares × AvgEntryPrice within floating tolerance
// after every mutation, and an open position always has Shares > 0.
type Position struct {
	ID            int64
	AgentID       int64
	MarketID      string
	Side          string
	Shares        float64
	AvgEntryPrice float64
	TotalCost     float64
	CurrentValue  *float64 // nil until first valuation
	UnrealizedPnL *float64
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// NewPosition opens a fresh position for the first buy.
func NewPosition(agentID int64, marketID, side string, openedAt time.Time) Position {
	return Position{
		AgentID:  agentID,
		MarketID: marketID,
		Side:     side,
		Status:   PositionOpen,
		OpenedAt: openedAt,
	}
}

// ApplyBuy adds shares at price, recomputing the weighted average entry:
//
//	newAvg = (oldShares·oldAvg + shares·price) / (oldShares + shares)
func (p *Position) ApplyBuy(shares, price float64) error {
	if shares <= 0 || !validPrice(price) {
		return ErrInvalidQuantity
	}
	total := p.Shares + shares
	p.AvgEntryPrice = (p.Shares*p.AvgEntryPrice + shares*price) / total
	p.Shares = total
	p.TotalCost += shares * price
	p.Status = PositionOpen
	return nil
}

// ApplySell removes shares at price. Cost basis removed is proportional to the
// weighted average entry, so no lot tracking is needed. A request within the
// dust tolerance of the full holding is clamped to it; sharesSold is the count
// actually removed, and the caller must derive proceeds from it, never from
// the requested count. When the position empties it transitions to closed;
// the caller stamps ClosedAt.
func (p *Position) ApplySell(shares, price float64) (sharesSold, costBasisRemoved, realizedPnL float64, err error) {
	if shares <= 0 || !validPrice(price) {
		return 0, 0, 0, ErrInvalidQuantity
	}
	if shares > p.Shares+sharesEpsilon {
		return 0, 0, 0, ErrOverSell
	}
	if shares > p.Shares {
		shares = p.Shares
	}
	costBasisRemoved = shares * p.AvgEntryPrice
	realizedPnL = shares*price - costBasisRemoved
	p.Shares -= shares
	p.TotalCost -= costBasisRemoved
	if p.Shares <= sharesEpsilon {
		p.Shares = 0
		p.TotalCost = 0
		p.Status = PositionClosed
	}
	return shares, costBasisRemoved, realizedPnL, nil
}

// Revalue marks the position to market at the given side price.
// Immediately afterwards UnrealizedPnL == CurrentValue − TotalCost.
func (p *Position) Revalue(sidePrice float64) {
	value := p.Shares * sidePrice
	pnl := value - p.TotalCost
	p.CurrentValue = &value
	p.UnrealizedPnL = &pnl
}

// SettleValue computes the terminal value when the market resolves: par value
// per share when the side won, zero otherwise. The position keeps its share
// count for the historical record; CurrentValue becomes the terminal value so
// P&L reconciliation still holds.
func (p *Position) SettleValue(won bool) (terminalValue, realizedPnL float64) {
	if won {
		terminalValue = p.Shares
	}
	return terminalValue, terminalValue - p.TotalCost
}

// MarkSettled applies the terminal valuation and flips the status.
// Idempotent at the store layer: settling an already-settled row is a no-op.
func (p *Position) MarkSettled(terminalValue float64, at time.Time) {
	pnl := terminalValue - p.TotalCost
	p.CurrentValue = &terminalValue
	p.UnrealizedPnL = &pnl
	p.Status = PositionSettled
	if p.ClosedAt == nil {
		p.ClosedAt = &at
	}
}
