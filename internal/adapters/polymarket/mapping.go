package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
)

// winnerThreshold: a closed market whose leading outcome trades at or above
// this is considered resolved to that outcome. Gamma keeps reporting prices
// after resolution, pinned to 1 (winner) and 0 (losers).
const winnerThreshold = 0.99

// mapGammaMarkets converts Gamma DTOs to domain markets, dropping entries
// without a condition ID.
func mapGammaMarkets(raw []gammaMarket, syncedAt time.Time) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		if r.ConditionID == "" {
			continue
		}
		markets = append(markets, mapGammaMarket(r, syncedAt))
	}
	return markets
}

func mapGammaMarket(r gammaMarket, syncedAt time.Time) domain.Market {
	m := domain.Market{
		ID:       r.ConditionID,
		Question: r.Question,
		Slug:     r.Slug,
		SyncedAt: syncedAt,
	}
	if v, err := r.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}
	if r.EndDateISO != "" {
		// Gamma uses several date formats; try the common ones
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, r.EndDateISO); err == nil {
				m.EndDate = t.UTC()
				break
			}
		}
	}

	outcomes := decodeStringArray(r.Outcomes)
	prices := decodeFloatArray(r.OutcomePrices)

	if isBinary(outcomes) {
		m.Type = domain.MarketBinary
		if len(prices) > 0 {
			m.Price = prices[0] // YES first by Gamma convention
		}
	} else {
		m.Type = domain.MarketMulti
		m.OutcomePrices = make(map[string]float64, len(outcomes))
		for i, label := range outcomes {
			if i < len(prices) {
				m.OutcomePrices[label] = prices[i]
			}
		}
	}

	m.Status, m.Resolution = classify(r, outcomes, prices)
	return m
}

// classify derives lifecycle status and resolution from Gamma's flags and the
// pinned post-resolution prices.
func classify(r gammaMarket, outcomes []string, prices []float64) (domain.MarketStatus, string) {
	if r.Active && !r.Closed {
		return domain.MarketActive, ""
	}
	if winner, ok := winningOutcome(outcomes, prices); ok {
		return domain.MarketResolved, winner
	}
	if r.Archived {
		// off the books without a winner: voided
		return domain.MarketCancelled, ""
	}
	return domain.MarketClosed, ""
}

// winningOutcome finds the outcome pinned at ~1, if any.
func winningOutcome(outcomes []string, prices []float64) (string, bool) {
	for i, p := range prices {
		if p >= winnerThreshold && i < len(outcomes) {
			if isBinary(outcomes) {
				return domain.NormalizeSide(outcomes[i]), true
			}
			return outcomes[i], true
		}
	}
	return "", false
}

// isBinary reports whether the outcome set is the canonical Yes/No pair.
func isBinary(outcomes []string) bool {
	return len(outcomes) == 2 &&
		strings.EqualFold(outcomes[0], "Yes") &&
		strings.EqualFold(outcomes[1], "No")
}

// decodeStringArray parses Gamma's string-encoded JSON arrays (`["Yes","No"]`).
func decodeStringArray(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// decodeFloatArray parses Gamma's string-encoded price arrays (`["0.62","0.38"]`).
func decodeFloatArray(s string) []float64 {
	if s == "" {
		return nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}
