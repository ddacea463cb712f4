package domain

import "time"

// BrierScore is the calibration record for one settled BUY trade.
// Computed once at market resolution, immutable.
type BrierScore struct {
	ID        int64
	AgentID   int64
	TradeID   int64
	MarketID  string
	Forecast  float64 // stated probability at bet time, clamped to [0,1]
	Outcome   int     // 1 if the trade's side won, else 0
	Score     float64 // (forecast − outcome)², always in [0,1]
	CreatedAt time.Time
}

// Brier computes the squared-error calibration score. Lower is
// better-calibrated; the result is always in [0,1].
func Brier(forecast float64, outcome int) float64 {
	f := Clamp01(forecast)
	o := 0.0
	if outcome != 0 {
		o = 1
	}
	d := f - o
	return d * d
}
