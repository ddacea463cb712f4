package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/arena/internal/domain"
)

// UpsertMarkets refreshes the local market mirror. One row per market; prices,
// status and resolution always take the feed's latest values.
func (s *SQLiteStorage) UpsertMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO markets
				(id, question, slug, type, status, price, outcome_prices,
				 resolution, end_date, volume_24h, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				question       = excluded.question,
				slug           = excluded.slug,
				type           = excluded.type,
				status         = excluded.status,
				price          = excluded.price,
				outcome_prices = excluded.outcome_prices,
				resolution     = excluded.resolution,
				end_date       = excluded.end_date,
				volume_24h     = excluded.volume_24h,
				synced_at      = excluded.synced_at
		`)
		if err != nil {
			return fmt.Errorf("storage.UpsertMarkets: prepare: %w", err)
		}
		defer stmt.Close()

		for _, m := range markets {
			var outcomes *string
			if len(m.OutcomePrices) > 0 {
				b, err := json.Marshal(m.OutcomePrices)
				if err != nil {
					return fmt.Errorf("storage.UpsertMarkets: encode outcomes %q: %w", m.ID, err)
				}
				s := string(b)
				outcomes = &s
			}
			var endDate any
			if !m.EndDate.IsZero() {
				endDate = m.EndDate.UTC()
			}
			if _, err := stmt.ExecContext(ctx,
				m.ID, m.Question, m.Slug, m.Type, m.Status,
				nullableFloat(m.Price, m.Type == domain.MarketBinary),
				outcomes, m.Resolution, endDate, m.Volume24h, m.SyncedAt,
			); err != nil {
				return fmt.Errorf("storage.UpsertMarkets: %q: %w", m.ID, err)
			}
		}
		return nil
	})
}

const marketColumns = `id, question, slug, type, status, price, outcome_prices,
	resolution, end_date, volume_24h, synced_at`

// Market returns one mirrored market, or nil when unknown.
func (s *SQLiteStorage) Market(ctx context.Context, id string) (*domain.Market, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.Market: %w", err)
	}
	return &m, nil
}

// EligibleMarkets returns active markets ordered by 24h volume, capped at
// limit. This is the candidate set presented to agents.
func (s *SQLiteStorage) EligibleMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE status = ? ORDER BY volume_24h DESC LIMIT ?`,
		domain.MarketActive, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.EligibleMarkets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// MarketIDsWithExposure lists markets still referenced by unsettled positions.
func (s *SQLiteStorage) MarketIDsWithExposure(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT market_id FROM positions WHERE status != ?
	`, domain.PositionSettled)
	if err != nil {
		return nil, fmt.Errorf("storage.MarketIDsWithExposure: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.MarketIDsWithExposure: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolvedMarketsWithExposure is the settlement worklist: resolved or
// cancelled markets that still have unsettled positions.
func (s *SQLiteStorage) ResolvedMarketsWithExposure(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE status IN (?, ?)
		   AND id IN (SELECT DISTINCT market_id FROM positions WHERE status != ?)`,
		domain.MarketResolved, domain.MarketCancelled, domain.PositionSettled)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolvedMarketsWithExposure: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

func collectMarkets(rows *sql.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func scanMarket(r rowScanner) (domain.Market, error) {
	var m domain.Market
	var price sql.NullFloat64
	var outcomes sql.NullString
	var endDate sql.NullTime
	if err := r.Scan(&m.ID, &m.Question, &m.Slug, &m.Type, &m.Status,
		&price, &outcomes, &m.Resolution, &endDate, &m.Volume24h, &m.SyncedAt); err != nil {
		return domain.Market{}, err
	}
	if price.Valid {
		m.Price = price.Float64
	}
	if outcomes.Valid && outcomes.String != "" {
		if err := json.Unmarshal([]byte(outcomes.String), &m.OutcomePrices); err != nil {
			return domain.Market{}, fmt.Errorf("decode outcomes %q: %w", m.ID, err)
		}
	}
	if endDate.Valid {
		m.EndDate = endDate.Time
	}
	return m, nil
}

func nullableFloat(v float64, valid bool) any {
	if !valid {
		return nil
	}
	return v
}
