package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/arena/internal/domain"
)

func TestParseDecision_PlainBet(t *testing.T) {
	d, err := ParseDecision(`{"action": "BET", "market_id": "0xabc", "side": "YES",
		"amount": 250, "confidence": 0.7, "reasoning": "polls moved"}`)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionBet, d.Action)
	assert.Equal(t, "0xabc", d.MarketID)
	assert.Equal(t, "YES", d.Side)
	assert.InDelta(t, 250.0, d.Amount, 1e-9)
	assert.True(t, d.HasConfidence)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
}

func TestParseDecision_FencedWithProse(t *testing.T) {
	content := "Looking at the markets, I think YES is underpriced.\n\n" +
		"```json\n" +
		`{"action": "BET", "market_id": "0xabc", "side": "yes", "amount": 100}` +
		"\n```\n\nThat is my final answer."

	d, err := ParseDecision(content)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBet, d.Action)
	assert.Equal(t, "yes", d.Side)
	assert.False(t, d.HasConfidence)
}

func TestParseDecision_ConfidenceAsPercent(t *testing.T) {
	d, err := ParseDecision(`{"action": "BET", "market_id": "m", "side": "NO",
		"amount": 50, "confidence": 70}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
}

func TestParseDecision_LowercaseAction(t *testing.T) {
	d, err := ParseDecision(`{"action": "hold", "reasoning": "nothing attractive"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, d.Action)
}

func TestParseDecision_SellWithoutShares(t *testing.T) {
	// missing shares means "close the whole position"; the executor decides
	d, err := ParseDecision(`{"action": "SELL", "market_id": "m", "side": "YES"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, d.Action)
	assert.Zero(t, d.Shares)
}

func TestParseDecision_Rejections(t *testing.T) {
	cases := map[string]string{
		"no json":             "I would like to bet on YES please",
		"unknown action":      `{"action": "YOLO", "market_id": "m"}`,
		"bet without market":  `{"action": "BET", "side": "YES", "amount": 10}`,
		"bet without amount":  `{"action": "BET", "market_id": "m", "side": "YES"}`,
		"sell without market": `{"action": "SELL", "side": "YES", "shares": 5}`,
		"negative amount":     `{"action": "BET", "market_id": "m", "side": "YES", "amount": -5}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDecision(content)
			assert.Error(t, err)
		})
	}
}

func TestExtractJSONObject_BracesInsideStrings(t *testing.T) {
	raw, ok := extractJSONObject(`prefix {"action": "HOLD", "reasoning": "odds {not} moving"} suffix`)
	require.True(t, ok)
	assert.Equal(t, `{"action": "HOLD", "reasoning": "odds {not} moving"}`, raw)
}
