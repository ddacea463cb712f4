package engine

// executor.go: the per-agent decision state machine. One cycle per agent:
// build context, ask the model, validate against risk policy, execute at most
// one trade. Every cycle leaves exactly one immutable Decision audit row,
// whatever the outcome.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// Reject reasons recorded on the Decision row. A rejection is a valid,
// auditable outcome, not an error.
const (
	rejectInsufficientFunds = "insufficient_funds"
	rejectBetTooSmall       = "bet_too_small"
	rejectUnknownMarket     = "unknown_market"
	rejectMarketNotOpen     = "market_not_open"
	rejectUnknownSide       = "unknown_side"
	rejectPriceUnavailable  = "price_unavailable"
	rejectNoOpenPosition    = "no_open_position"
	rejectOverSell          = "over_sell"
)

// agentOutcome summarizes one agent's cycle for the stats rollup.
type agentOutcome struct {
	action   domain.Action
	rejected bool
	traded   bool
}

// runAgent executes one full decision cycle for one agent. Errors returned
// here are infrastructure failures (storage down); model and validation
// failures are absorbed into the Decision record.
func (e *Engine) runAgent(ctx context.Context, agent domain.Agent, markets []domain.Market) (agentOutcome, error) {
	actx, err := e.buildContext(ctx, agent, markets)
	if err != nil {
		return agentOutcome{}, fmt.Errorf("agent %d: build context: %w", agent.ID, err)
	}

	outcome, retries, decideErr := e.decideWithRetries(ctx, actx)

	dec := domain.Decision{
		ID:               uuid.NewString(),
		AgentID:          agent.ID,
		RequestContext:   outcome.RawRequest,
		RawResponse:      outcome.RawResponse,
		RetryCount:       retries,
		LatencyMS:        outcome.LatencyMS,
		PromptTokens:     outcome.PromptTokens,
		CompletionTokens: outcome.CompletionTokens,
		CreatedAt:        e.now(),
	}
	if decideErr != nil {
		dec.Action = domain.ActionError
		dec.ErrorDetail = decideErr.Error()
		if err := e.store.SaveDecision(ctx, dec); err != nil {
			return agentOutcome{}, fmt.Errorf("agent %d: save decision: %w", agent.ID, err)
		}
		slog.Warn("decision failed", "agent", agent.ID, "model", agent.ModelID,
			"retries", retries, "err", decideErr)
		return agentOutcome{action: domain.ActionError}, nil
	}

	d := outcome.Decision
	dec.Action = d.Action
	dec.MarketID = d.MarketID
	dec.Side = domain.NormalizeSide(d.Side)
	dec.Amount = d.Amount
	dec.Reasoning = d.Reasoning
	if d.HasConfidence {
		c := domain.Clamp01(d.Confidence)
		dec.Confidence = &c
	}

	out := agentOutcome{action: d.Action}
	switch d.Action {
	case domain.ActionHold:
		// nothing to execute
	case domain.ActionBet:
		reason, err := e.executeBet(ctx, agent, &dec, d)
		if err != nil {
			return agentOutcome{}, err
		}
		dec.RejectReason = reason
		out.rejected = reason != ""
		out.traded = reason == ""
	case domain.ActionSell:
		reason, err := e.executeSell(ctx, agent, &dec, d)
		if err != nil {
			return agentOutcome{}, err
		}
		dec.RejectReason = reason
		out.rejected = reason != ""
		out.traded = reason == ""
	default:
		dec.Action = domain.ActionError
		dec.ErrorDetail = fmt.Sprintf("unknown action %q", d.Action)
		out.action = domain.ActionError
	}

	if err := e.store.SaveDecision(ctx, dec); err != nil {
		return agentOutcome{}, fmt.Errorf("agent %d: save decision: %w", agent.ID, err)
	}
	slog.Info("decision recorded", "agent", agent.ID, "model", agent.ModelID,
		"action", dec.Action, "market", dec.MarketID, "reject", dec.RejectReason)
	return out, nil
}

// buildContext assembles the payload presented to the model: balance, open
// positions marked to the mirrored prices, and the eligible market list.
func (e *Engine) buildContext(ctx context.Context, agent domain.Agent, eligible []domain.Market) (ports.AgentContext, error) {
	positions, err := e.store.OpenPositions(ctx, agent.ID)
	if err != nil {
		return ports.AgentContext{}, err
	}

	actx := ports.AgentContext{
		AgentID: agent.ID,
		Model:   agent.ModelID,
		Cash:    agent.Cash,
	}
	for _, p := range positions {
		pc := ports.PositionContext{
			MarketID:      p.MarketID,
			Side:          p.Side,
			Shares:        p.Shares,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  domain.FallbackPrice,
		}
		m, err := e.store.Market(ctx, p.MarketID)
		if err != nil {
			return ports.AgentContext{}, err
		}
		if m != nil {
			pc.Question = m.Question
			if price, ok := m.SidePrice(p.Side); ok {
				pc.CurrentPrice = price
			}
		}
		pc.UnrealizedPnL = p.Shares*pc.CurrentPrice - p.TotalCost
		actx.Positions = append(actx.Positions, pc)
	}
	for _, m := range eligible {
		mc := ports.MarketContext{
			MarketID: m.ID,
			Question: m.Question,
			Type:     string(m.Type),
		}
		if m.Type == domain.MarketBinary {
			mc.YesPrice = m.Price
		} else {
			mc.Outcomes = m.OutcomePrices
		}
		if !m.EndDate.IsZero() {
			mc.EndDate = m.EndDate.UTC().Format(time.RFC3339)
		}
		actx.Markets = append(actx.Markets, mc)
	}
	return actx, nil
}

// decideWithRetries calls the model up to 1+DecisionRetries times. Only the
// last exchange is kept for the audit row.
func (e *Engine) decideWithRetries(ctx context.Context, actx ports.AgentContext) (ports.DecisionOutcome, int, error) {
	var (
		outcome ports.DecisionOutcome
		err     error
	)
	attempts := 1 + e.cfg.DecisionRetries
	for i := 0; i < attempts; i++ {
		outcome, err = e.decider.Decide(ctx, actx)
		if err == nil {
			return outcome, i, nil
		}
		if ctx.Err() != nil {
			break // budget exhausted, don't burn more attempts
		}
	}
	if outcome.RawRequest == "" {
		// transport died before a request was recorded; keep the context we built
		if b, mErr := json.Marshal(actx); mErr == nil {
			outcome.RawRequest = string(b)
		}
	}
	return outcome, attempts - 1, err
}

// executeBet validates a BET against risk policy and executes it. Returns a
// reject reason ("" on success); a non-nil error is an infrastructure failure.
//
// Policy order matters: a bet the agent cannot afford is rejected before the
// minimum-size check, and the exposure cap shrinks the bet rather than
// rejecting it.
func (e *Engine) executeBet(ctx context.Context, agent domain.Agent, dec *domain.Decision, d domain.AgentDecision) (string, error) {
	market, err := e.store.Market(ctx, d.MarketID)
	if err != nil {
		return "", fmt.Errorf("agent %d: load market: %w", agent.ID, err)
	}
	if market == nil {
		return rejectUnknownMarket, nil
	}
	if !market.Tradeable() {
		return rejectMarketNotOpen, nil
	}
	side := domain.NormalizeSide(d.Side)
	if !market.HasSide(side) {
		return rejectUnknownSide, nil
	}
	price, ok := market.SidePrice(side)
	if !ok || price <= 0 {
		// refuse to open exposure at a fabricated price
		return rejectPriceUnavailable, nil
	}

	amount := d.Amount
	if amount > agent.Cash {
		return rejectInsufficientFunds, nil
	}
	if amount < e.cfg.MinBetUSD {
		return rejectBetTooSmall, nil
	}
	if limit := agent.Cash * e.cfg.MaxBetFraction; amount > limit {
		slog.Info("bet capped", "agent", agent.ID, "requested", amount, "capped", limit)
		amount = limit
		dec.Amount = amount
	}

	pos, err := e.store.OpenPositionByMarketSide(ctx, agent.ID, market.ID, side)
	if err != nil {
		return "", fmt.Errorf("agent %d: load position: %w", agent.ID, err)
	}
	now := e.now()
	if pos == nil {
		p := domain.NewPosition(agent.ID, market.ID, side, now)
		pos = &p
	}
	shares := amount / price
	if err := pos.ApplyBuy(shares, price); err != nil {
		return "", fmt.Errorf("agent %d: apply buy: %w", agent.ID, err)
	}

	forecast := price
	if d.HasConfidence {
		forecast = domain.Clamp01(d.Confidence)
	}
	trade := domain.Trade{
		AgentID:           agent.ID,
		DecisionID:        dec.ID,
		MarketID:          market.ID,
		Side:              side,
		Type:              domain.TradeBuy,
		Shares:            shares,
		Price:             price,
		Amount:            amount,
		ImpliedConfidence: &forecast,
		CreatedAt:         now,
	}
	_, _, err = e.store.ExecuteTrade(ctx, ports.TradeExecution{
		Position:  *pos,
		Trade:     trade,
		CashDelta: -amount,
	})
	if errors.Is(err, domain.ErrInsufficientFunds) {
		// balance moved under us; record as a rejection, not a failure
		return rejectInsufficientFunds, nil
	}
	if err != nil {
		return "", fmt.Errorf("agent %d: execute buy: %w", agent.ID, err)
	}
	return "", nil
}

// executeSell validates a SELL and executes it. A requested share count of
// zero (or less) means "close the whole position".
func (e *Engine) executeSell(ctx context.Context, agent domain.Agent, dec *domain.Decision, d domain.AgentDecision) (string, error) {
	side := domain.NormalizeSide(d.Side)
	pos, err := e.store.OpenPositionByMarketSide(ctx, agent.ID, d.MarketID, side)
	if err != nil {
		return "", fmt.Errorf("agent %d: load position: %w", agent.ID, err)
	}
	if pos == nil {
		return rejectNoOpenPosition, nil
	}

	market, err := e.store.Market(ctx, d.MarketID)
	if err != nil {
		return "", fmt.Errorf("agent %d: load market: %w", agent.ID, err)
	}
	if market == nil {
		return rejectUnknownMarket, nil
	}
	price, ok := market.SidePrice(side)
	if !ok {
		return rejectPriceUnavailable, nil
	}

	shares := d.Shares
	if shares <= 0 {
		shares = pos.Shares
	}
	sold, costRemoved, realized, err := pos.ApplySell(shares, price)
	if errors.Is(err, domain.ErrOverSell) {
		return rejectOverSell, nil
	}
	if err != nil {
		return "", fmt.Errorf("agent %d: apply sell: %w", agent.ID, err)
	}
	now := e.now()
	if pos.Status == domain.PositionClosed && pos.ClosedAt == nil {
		pos.ClosedAt = &now
	}

	// proceeds come from the shares actually removed, which the ledger may
	// have clamped to the holding
	proceeds := sold * price
	trade := domain.Trade{
		AgentID:          agent.ID,
		DecisionID:       dec.ID,
		MarketID:         market.ID,
		Side:             side,
		Type:             domain.TradeSell,
		Shares:           sold,
		Price:            price,
		Amount:           proceeds,
		CostBasisRemoved: &costRemoved,
		RealizedPnL:      &realized,
		CreatedAt:        now,
	}
	if _, _, err := e.store.ExecuteTrade(ctx, ports.TradeExecution{
		Position:  *pos,
		Trade:     trade,
		CashDelta: proceeds,
	}); err != nil {
		return "", fmt.Errorf("agent %d: execute sell: %w", agent.ID, err)
	}
	return "", nil
}
