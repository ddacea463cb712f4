package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func costBasisHolds(t *testing.T, p Position) {
	t.Helper()
	assert.InDelta(t, p.Shares*p.AvgEntryPrice, p.TotalCost, 1e-6,
		"total cost must equal shares × average entry price")
}

func TestApplyBuy_OpensPosition(t *testing.T) {
	// $500 at 0.40 → 1250 shares, avg 0.40, cost $500
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1250, 0.40))

	assert.Equal(t, 1250.0, p.Shares)
	assert.Equal(t, 0.40, p.AvgEntryPrice)
	assert.InDelta(t, 500.0, p.TotalCost, 1e-9)
	assert.Equal(t, PositionOpen, p.Status)
	costBasisHolds(t, p)
}

func TestApplyBuy_WeightedAverage(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(100, 0.40))
	require.NoError(t, p.ApplyBuy(100, 0.60))

	assert.InDelta(t, 0.50, p.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 100.0, p.TotalCost, 1e-9)
	assert.Equal(t, 200.0, p.Shares)
	costBasisHolds(t, p)
}

func TestApplyBuy_InvalidInputs(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	assert.ErrorIs(t, p.ApplyBuy(0, 0.40), ErrInvalidQuantity)
	assert.ErrorIs(t, p.ApplyBuy(-5, 0.40), ErrInvalidQuantity)
	assert.ErrorIs(t, p.ApplyBuy(10, 1.5), ErrInvalidQuantity)
	assert.ErrorIs(t, p.ApplyBuy(10, -0.1), ErrInvalidQuantity)
}

func TestApplySell_Partial(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1000, 0.40))

	sold, cost, pnl, err := p.ApplySell(400, 0.55)
	require.NoError(t, err)
	assert.Equal(t, 400.0, sold)

	assert.InDelta(t, 160.0, cost, 1e-9) // 400 × 0.40
	assert.InDelta(t, 60.0, pnl, 1e-9)   // 400×0.55 − 160
	assert.Equal(t, 600.0, p.Shares)
	assert.InDelta(t, 240.0, p.TotalCost, 1e-9)
	assert.Equal(t, PositionOpen, p.Status)
	costBasisHolds(t, p)
}

func TestApplySell_FullCloses(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1000, 0.40))

	_, _, _, err := p.ApplySell(1000, 0.50)
	require.NoError(t, err)

	assert.Equal(t, 0.0, p.Shares)
	assert.Equal(t, 0.0, p.TotalCost)
	assert.Equal(t, PositionClosed, p.Status)
}

func TestApplySell_OverSell(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1250, 0.40))

	_, _, _, err := p.ApplySell(2000, 0.50)
	assert.ErrorIs(t, err, ErrOverSell)

	// rejected sell leaves the position untouched
	assert.Equal(t, 1250.0, p.Shares)
	assert.InDelta(t, 500.0, p.TotalCost, 1e-9)
	costBasisHolds(t, p)
}

func TestApplySell_ResidualDustCloses(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(0.3, 0.50))
	require.NoError(t, p.ApplyBuy(0.3, 0.50))
	require.NoError(t, p.ApplyBuy(0.3, 0.50))

	_, _, _, err := p.ApplySell(0.9, 0.50)
	require.NoError(t, err)
	assert.Equal(t, PositionClosed, p.Status)
	assert.Equal(t, 0.0, p.Shares)
}

func TestApplySell_DustRequestClampedToHolding(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1250, 0.40))

	// within tolerance of the full holding: clamp, don't reject, and report
	// the clamped count so proceeds never exceed what was actually held
	sold, cost, pnl, err := p.ApplySell(1250+5e-10, 0.50)
	require.NoError(t, err)

	assert.Equal(t, 1250.0, sold)
	assert.InDelta(t, 500.0, cost, 1e-9)
	assert.InDelta(t, 125.0, pnl, 1e-9)
	assert.Equal(t, PositionClosed, p.Status)
}

func TestRevalue_PnLReconciles(t *testing.T) {
	// 1250 shares at 0.40, price moves to 0.60
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1250, 0.40))

	p.Revalue(0.60)
	require.NotNil(t, p.CurrentValue)
	require.NotNil(t, p.UnrealizedPnL)
	assert.InDelta(t, 750.0, *p.CurrentValue, 1e-9)
	assert.InDelta(t, 250.0, *p.UnrealizedPnL, 1e-9)
	assert.InDelta(t, *p.CurrentValue-p.TotalCost, *p.UnrealizedPnL, 1e-9)
}

func TestSettleValue_Won(t *testing.T) {
	p := NewPosition(1, "mkt", SideYes, time.Now())
	require.NoError(t, p.ApplyBuy(1250, 0.40))

	terminal, realized := p.SettleValue(true)
	assert.InDelta(t, 1250.0, terminal, 1e-9)
	assert.InDelta(t, 750.0, realized, 1e-9)
}

func TestSettleValue_Lost(t *testing.T) {
	p := NewPosition(1, "mkt", SideNo, time.Now())
	require.NoError(t, p.ApplyBuy(200, 0.30))

	terminal, realized := p.SettleValue(false)
	assert.Equal(t, 0.0, terminal)
	assert.InDelta(t, -60.0, realized, 1e-9)
}

func TestMarkSettled(t *testing.T) {
	now := time.Now()
	p := NewPosition(1, "mkt", SideYes, now)
	require.NoError(t, p.ApplyBuy(100, 0.50))

	p.MarkSettled(100, now)
	assert.Equal(t, PositionSettled, p.Status)
	require.NotNil(t, p.ClosedAt)
	assert.Equal(t, now, *p.ClosedAt)
	assert.InDelta(t, 50.0, *p.UnrealizedPnL, 1e-9)
}
