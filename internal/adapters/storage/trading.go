package storage

// trading.go: positions, decisions, atomic trade execution and settlement.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

const positionColumns = `id, agent_id, market_id, side, shares, avg_entry_price,
	total_cost, current_value, unrealized_pnl, status, opened_at, closed_at`

// OpenPositions returns an agent's open positions.
func (s *SQLiteStorage) OpenPositions(ctx context.Context, agentID int64) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE agent_id = ? AND status = ? ORDER BY opened_at`,
		agentID, domain.PositionOpen)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPositions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// OpenPositionByMarketSide finds the unique open position for
// (agent, market, side), or nil.
func (s *SQLiteStorage) OpenPositionByMarketSide(ctx context.Context, agentID int64, marketID, side string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE agent_id = ? AND market_id = ? AND side = ? AND status = ?`,
		agentID, marketID, side, domain.PositionOpen)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPositionByMarketSide: %w", err)
	}
	return &p, nil
}

// UnsettledPositionsByMarket returns every position (open or closed) of a
// market that has not yet been settled.
func (s *SQLiteStorage) UnsettledPositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = ? AND status != ? ORDER BY id`,
		marketID, domain.PositionSettled)
	if err != nil {
		return nil, fmt.Errorf("storage.UnsettledPositionsByMarket: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// PositionCounts returns (total ever opened, currently open) across a cohort.
func (s *SQLiteStorage) PositionCounts(ctx context.Context, cohortID int64) (total, open int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN p.status = ? THEN 1 ELSE 0 END), 0)
		FROM positions p JOIN agents a ON a.id = p.agent_id
		WHERE a.cohort_id = ?
	`, domain.PositionOpen, cohortID).Scan(&total, &open)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.PositionCounts: %w", err)
	}
	return total, open, nil
}

// SaveDecision appends one immutable decision audit row.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, d domain.Decision) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions
			(id, agent_id, action, market_id, side, amount, confidence, reasoning,
			 request_context, raw_response, retry_count, latency_ms,
			 prompt_tokens, completion_tokens, error_detail, reject_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.AgentID, d.Action, d.MarketID, d.Side, d.Amount, d.Confidence,
		d.Reasoning, d.RequestContext, d.RawResponse, d.RetryCount, d.LatencyMS,
		d.PromptTokens, d.CompletionTokens, d.ErrorDetail, d.RejectReason, d.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage.SaveDecision: %w", err)
	}
	return nil
}

// DecisionsByAgent returns an agent's decision audit rows, newest first.
func (s *SQLiteStorage) DecisionsByAgent(ctx context.Context, agentID int64, limit int) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, action, market_id, side, amount, confidence,
		       reasoning, request_context, raw_response, retry_count, latency_ms,
		       prompt_tokens, completion_tokens, error_detail, reject_reason, created_at
		FROM decisions WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.DecisionsByAgent: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var confidence sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.AgentID, &d.Action, &d.MarketID, &d.Side,
			&d.Amount, &confidence, &d.Reasoning, &d.RequestContext, &d.RawResponse,
			&d.RetryCount, &d.LatencyMS, &d.PromptTokens, &d.CompletionTokens,
			&d.ErrorDetail, &d.RejectReason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.DecisionsByAgent: scan: %w", err)
		}
		if confidence.Valid {
			d.Confidence = &confidence.Float64
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ExecuteTrade applies one trade atomically: position upsert, agent balance
// update and trade insert commit together or not at all. The balance update
// is guarded so no sequence of trades can drive cash negative.
func (s *SQLiteStorage) ExecuteTrade(ctx context.Context, exec ports.TradeExecution) (domain.Position, domain.Trade, error) {
	pos := exec.Position
	trade := exec.Trade

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if pos.ID == 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO positions
					(agent_id, market_id, side, shares, avg_entry_price, total_cost,
					 current_value, unrealized_pnl, status, opened_at, closed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, pos.AgentID, pos.MarketID, pos.Side, pos.Shares, pos.AvgEntryPrice,
				pos.TotalCost, pos.CurrentValue, pos.UnrealizedPnL, pos.Status,
				pos.OpenedAt, nullableTime(pos.ClosedAt))
			if err != nil {
				return fmt.Errorf("insert position: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("position id: %w", err)
			}
			pos.ID = id
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE positions
				SET shares = ?, avg_entry_price = ?, total_cost = ?, status = ?, closed_at = ?
				WHERE id = ?
			`, pos.Shares, pos.AvgEntryPrice, pos.TotalCost, pos.Status,
				nullableTime(pos.ClosedAt), pos.ID); err != nil {
				return fmt.Errorf("update position: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE agents SET cash = cash + ?
			WHERE id = ? AND cash + ? >= -1e-9
		`, exec.CashDelta, pos.AgentID, exec.CashDelta)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("balance rows: %w", err)
		} else if n == 0 {
			return fmt.Errorf("agent %d: %w", pos.AgentID, domain.ErrInsufficientFunds)
		}

		trade.PositionID = pos.ID
		tradeRes, err := tx.ExecContext(ctx, `
			INSERT INTO trades
				(agent_id, position_id, decision_id, market_id, side, type,
				 shares, price, amount, implied_confidence, cost_basis_removed,
				 realized_pnl, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, trade.AgentID, trade.PositionID, trade.DecisionID, trade.MarketID,
			trade.Side, trade.Type, trade.Shares, trade.Price, trade.Amount,
			trade.ImpliedConfidence, trade.CostBasisRemoved, trade.RealizedPnL,
			trade.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		if trade.ID, err = tradeRes.LastInsertId(); err != nil {
			return fmt.Errorf("trade id: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, domain.Trade{}, fmt.Errorf("storage.ExecuteTrade: %w", err)
	}
	return pos, trade, nil
}

// BuyTradesByPosition returns the BUY trades of one position, the qualifying
// forecasts for calibration scoring.
func (s *SQLiteStorage) BuyTradesByPosition(ctx context.Context, positionID int64) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, position_id, decision_id, market_id, side, type,
		       shares, price, amount, implied_confidence, cost_basis_removed,
		       realized_pnl, created_at
		FROM trades WHERE position_id = ? AND type = ? ORDER BY id
	`, positionID, domain.TradeBuy)
	if err != nil {
		return nil, fmt.Errorf("storage.BuyTradesByPosition: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.AgentID, &t.PositionID, &t.DecisionID,
			&t.MarketID, &t.Side, &t.Type, &t.Shares, &t.Price, &t.Amount,
			&t.ImpliedConfidence, &t.CostBasisRemoved, &t.RealizedPnL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.BuyTradesByPosition: scan: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SettlePosition applies terminal accounting atomically. The status guard on
// the position update makes repeated settlement a no-op: the cash credit and
// Brier rows are only written when the position actually transitioned.
func (s *SQLiteStorage) SettlePosition(ctx context.Context, exec ports.SettlementExecution) (bool, error) {
	settled := false
	pos := exec.Position
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE positions
			SET status = ?, current_value = ?, unrealized_pnl = ?, closed_at = ?
			WHERE id = ? AND status != ?
		`, domain.PositionSettled, pos.CurrentValue, pos.UnrealizedPnL,
			nullableTime(pos.ClosedAt), pos.ID, domain.PositionSettled)
		if err != nil {
			return fmt.Errorf("settle position: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("settle rows: %w", err)
		}
		if n == 0 {
			return nil // already settled
		}
		settled = true

		if exec.CashCredit != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE agents SET cash = cash + ? WHERE id = ?`,
				exec.CashCredit, pos.AgentID); err != nil {
				return fmt.Errorf("credit cash: %w", err)
			}
		}

		for _, b := range exec.Scores {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO brier_scores
					(agent_id, trade_id, market_id, forecast, outcome, score, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(trade_id) DO NOTHING
			`, b.AgentID, b.TradeID, b.MarketID, b.Forecast, b.Outcome, b.Score, b.CreatedAt); err != nil {
				return fmt.Errorf("insert brier: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("storage.SettlePosition: %w", err)
	}
	return settled, nil
}

func collectPositions(rows *sql.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanPosition(r rowScanner) (domain.Position, error) {
	var p domain.Position
	var value, pnl sql.NullFloat64
	var closed sql.NullTime
	if err := r.Scan(&p.ID, &p.AgentID, &p.MarketID, &p.Side, &p.Shares,
		&p.AvgEntryPrice, &p.TotalCost, &value, &pnl, &p.Status,
		&p.OpenedAt, &closed); err != nil {
		return domain.Position{}, err
	}
	if value.Valid {
		p.CurrentValue = &value.Float64
	}
	if pnl.Valid {
		p.UnrealizedPnL = &pnl.Float64
	}
	if closed.Valid {
		t := closed.Time
		p.ClosedAt = &t
	}
	return p, nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
