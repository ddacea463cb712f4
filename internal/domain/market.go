package domain

import (
	"math"
	"strings"
	"time"
)

// MarketType distinguishes binary YES/NO markets from multi-outcome ones.
type MarketType string

const (
	MarketBinary MarketType = "binary"
	MarketMulti  MarketType = "multi"
)

// MarketStatus mirrors the lifecycle reported by the market-data feed.
type MarketStatus string

const (
	MarketActive    MarketStatus = "active"
	MarketClosed    MarketStatus = "closed"
	MarketResolved  MarketStatus = "resolved"
	MarketCancelled MarketStatus = "cancelled"
)

// Binary market sides.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// FallbackPrice substitutes a missing or invalid market price. Data-quality
// faults must never block a whole sweep.
const FallbackPrice = 0.5

// Market is a prediction market mirrored locally from the external feed.
// It is referenced (never owned) by positions, trades and Brier scores.
type Market struct {
	ID            string // conditionID on Polymarket
	Question      string
	Slug          string
	Type          MarketType
	Status        MarketStatus
	Price         float64            // YES price, binary markets only
	OutcomePrices map[string]float64 // outcome label → price, multi-outcome only
	Resolution    string             // winning side/outcome, empty until resolved
	EndDate       time.Time
	Volume24h     float64
	SyncedAt      time.Time
}

// SidePrice resolves the current price for one side of the market.
// Binary markets use the single YES price (NO is valued at 1−price);
// multi-outcome markets look the side up in the outcome map.
// ok is false when the price is missing or outside [0,1]; callers substitute
// FallbackPrice and flag a warning instead of failing.
func (m Market) SidePrice(side string) (price float64, ok bool) {
	switch m.Type {
	case MarketMulti:
		for label, p := range m.OutcomePrices {
			if strings.EqualFold(label, side) {
				if !validPrice(p) {
					return FallbackPrice, false
				}
				return p, true
			}
		}
		return FallbackPrice, false
	default:
		if !validPrice(m.Price) {
			return FallbackPrice, false
		}
		if strings.EqualFold(side, SideNo) {
			return 1 - m.Price, true
		}
		return m.Price, true
	}
}

// HasSide reports whether side is a tradeable side of this market.
func (m Market) HasSide(side string) bool {
	if m.Type == MarketMulti {
		for label := range m.OutcomePrices {
			if strings.EqualFold(label, side) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(side, SideYes) || strings.EqualFold(side, SideNo)
}

// SideWon reports whether the given side matches the resolution outcome.
// Only meaningful once Status is MarketResolved.
func (m Market) SideWon(side string) bool {
	if m.Resolution == "" {
		return false
	}
	return strings.EqualFold(side, m.Resolution)
}

// Tradeable reports whether new bets may be placed on this market.
func (m Market) Tradeable() bool {
	return m.Status == MarketActive
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= 1
}

// Clamp01 clamps v into [0,1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeSide uppercases YES/NO and trims whitespace; multi-outcome labels
// keep their original casing beyond trimming.
func NormalizeSide(side string) string {
	s := strings.TrimSpace(side)
	if strings.EqualFold(s, SideYes) {
		return SideYes
	}
	if strings.EqualFold(s, SideNo) {
		return SideNo
	}
	return s
}
