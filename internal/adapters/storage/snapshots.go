package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// TakeSnapshot marks an agent's open positions to market and appends one
// portfolio snapshot, all in one transaction. Cash and positions are re-read
// inside the transaction, so a concurrent trade or settlement commits
// strictly before or strictly after the snapshot and the persisted row is
// always a consistent view of the ledger. The valuation update is guarded on
// status, so a terminal value written by settlement is never overwritten.
// The (agent, bucket) unique constraint makes re-running a sweep for the same
// bucket append nothing.
func (s *SQLiteStorage) TakeSnapshot(ctx context.Context, exec ports.SnapshotExecution) (ports.SnapshotResult, error) {
	var result ports.SnapshotResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cash float64
		if err := tx.QueryRowContext(ctx,
			`SELECT cash FROM agents WHERE id = ?`, exec.AgentID).Scan(&cash); err != nil {
			return fmt.Errorf("read cash: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT `+positionColumns+` FROM positions
			 WHERE agent_id = ? AND status = ? ORDER BY opened_at`,
			exec.AgentID, domain.PositionOpen)
		if err != nil {
			return fmt.Errorf("read positions: %w", err)
		}
		positions, err := collectPositions(rows)
		rows.Close()
		if err != nil {
			return err
		}

		var positionsValue float64
		for i := range positions {
			p := &positions[i]
			price, ok := domain.FallbackPrice, false
			if exec.PriceFor != nil {
				if mark, found := exec.PriceFor(p.MarketID, p.Side); found {
					price, ok = mark, true
				}
			}
			if !ok {
				result.Fallbacks++
			}
			p.Revalue(price)
			if _, err := tx.ExecContext(ctx, `
				UPDATE positions SET current_value = ?, unrealized_pnl = ?
				WHERE id = ? AND status = ?
			`, *p.CurrentValue, *p.UnrealizedPnL, p.ID, domain.PositionOpen); err != nil {
				return fmt.Errorf("update valuation: %w", err)
			}
			positionsValue += *p.CurrentValue
		}

		brierMean, resolvedBets, err := calibration(ctx, tx, exec.AgentID)
		if err != nil {
			return err
		}

		snap := domain.PortfolioSnapshot{
			AgentID:        exec.AgentID,
			Bucket:         exec.Bucket,
			Cash:           cash,
			PositionsValue: positionsValue,
			TotalValue:     cash + positionsValue,
			BrierMean:      brierMean,
			ResolvedBets:   resolvedBets,
			CreatedAt:      exec.At,
		}
		snap.TotalPnL = snap.TotalValue - exec.InitialBalance
		if exec.InitialBalance > 0 {
			snap.TotalPnLPercent = snap.TotalPnL / exec.InitialBalance * 100
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots
				(agent_id, bucket, cash, positions_value, total_value,
				 total_pnl, total_pnl_percent, brier_mean, resolved_bets, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id, bucket) DO NOTHING
		`, snap.AgentID, snap.Bucket.UTC(), snap.Cash, snap.PositionsValue,
			snap.TotalValue, snap.TotalPnL, snap.TotalPnLPercent,
			snap.BrierMean, snap.ResolvedBets, snap.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("snapshot rows: %w", err)
		}
		result.Inserted = n > 0
		return nil
	})
	if err != nil {
		return ports.SnapshotResult{}, fmt.Errorf("storage.TakeSnapshot: %w", err)
	}
	return result, nil
}

// Calibration returns the mean Brier score and resolved-bet count for one
// agent. The mean is nil when the agent has no scored bets yet.
func (s *SQLiteStorage) Calibration(ctx context.Context, agentID int64) (*float64, int, error) {
	mean, count, err := calibration(ctx, s.db, agentID)
	if err != nil {
		return nil, 0, fmt.Errorf("storage.Calibration: %w", err)
	}
	return mean, count, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func calibration(ctx context.Context, q rowQuerier, agentID int64) (*float64, int, error) {
	var mean sql.NullFloat64
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT AVG(score), COUNT(*) FROM brier_scores WHERE agent_id = ?`,
		agentID).Scan(&mean, &count)
	if err != nil {
		return nil, 0, err
	}
	if !mean.Valid {
		return nil, count, nil
	}
	return &mean.Float64, count, nil
}

// Leaderboard computes per-agent standings for one cohort: cash, open
// position value, P&L against the cohort's initial balance and calibration.
func (s *SQLiteStorage) Leaderboard(ctx context.Context, cohortID int64) ([]ports.LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.number, a.id, a.model_id, m.name, a.status, a.cash,
		       COALESCE((SELECT SUM(COALESCE(p.current_value, p.total_cost))
		                 FROM positions p
		                 WHERE p.agent_id = a.id AND p.status = ?), 0),
		       c.initial_balance,
		       (SELECT AVG(b.score) FROM brier_scores b WHERE b.agent_id = a.id),
		       (SELECT COUNT(*) FROM brier_scores b WHERE b.agent_id = a.id)
		FROM agents a
		JOIN cohorts c ON c.id = a.cohort_id
		JOIN models m  ON m.id = a.model_id
		WHERE a.cohort_id = ?
	`, domain.PositionOpen, cohortID)
	if err != nil {
		return nil, fmt.Errorf("storage.Leaderboard: %w", err)
	}
	defer rows.Close()

	var out []ports.LeaderboardRow
	for rows.Next() {
		var r ports.LeaderboardRow
		var initial float64
		var brier sql.NullFloat64
		if err := rows.Scan(&r.CohortNumber, &r.AgentID, &r.ModelID, &r.ModelName,
			&r.Status, &r.Cash, &r.PositionsValue, &initial, &brier, &r.ResolvedBets); err != nil {
			return nil, fmt.Errorf("storage.Leaderboard: scan: %w", err)
		}
		r.TotalValue = r.Cash + r.PositionsValue
		r.TotalPnL = r.TotalValue - initial
		if initial > 0 {
			r.TotalPnLPercent = r.TotalPnL / initial * 100
		}
		if brier.Valid {
			r.BrierMean = &brier.Float64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.Leaderboard: %w", err)
	}

	// best P&L first
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPnL > out[j].TotalPnL })
	return out, nil
}
