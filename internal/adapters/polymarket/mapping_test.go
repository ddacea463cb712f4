package polymarket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/arena/internal/adapters/polymarket"
	"github.com/alejandrodnm/arena/internal/domain"
)

func serveFixture(t *testing.T, fixture string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fixture))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMapping_ActiveBinaryMarket(t *testing.T) {
	fixture := `[{
		"conditionId": "0xabc",
		"question": "Will it rain tomorrow?",
		"slug": "will-it-rain",
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0.62\",\"0.38\"]",
		"endDateIso": "2026-12-31T00:00:00Z",
		"volume24hr": "15000.5",
		"active": true,
		"closed": false
	}]`

	srv := serveFixture(t, fixture)
	client := polymarket.NewClient(srv.URL)

	markets, err := client.FetchActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "0xabc", m.ID)
	assert.Equal(t, domain.MarketBinary, m.Type)
	assert.Equal(t, domain.MarketActive, m.Status)
	assert.InDelta(t, 0.62, m.Price, 1e-9)
	assert.InDelta(t, 15000.5, m.Volume24h, 1e-9)
	assert.Equal(t, 2026, m.EndDate.Year())
	assert.Empty(t, m.Resolution)
}

func TestMapping_ResolvedBinaryMarket(t *testing.T) {
	// prices pin to 1/0 once the market resolves
	fixture := `[{
		"conditionId": "0xres",
		"question": "Did the thing happen?",
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"1\",\"0\"]",
		"volume24hr": "0",
		"active": false,
		"closed": true
	}]`

	srv := serveFixture(t, fixture)
	client := polymarket.NewClient(srv.URL)

	markets, err := client.FetchMarketsByIDs(context.Background(), []string{"0xres"})
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, domain.MarketResolved, m.Status)
	assert.Equal(t, domain.SideYes, m.Resolution)
	assert.True(t, m.SideWon("yes"))
	assert.False(t, m.SideWon("NO"))
}

func TestMapping_MultiOutcomeMarket(t *testing.T) {
	fixture := `[{
		"conditionId": "0xmulti",
		"question": "Who wins the election?",
		"outcomes": "[\"Alice\",\"Bob\",\"Carol\"]",
		"outcomePrices": "[\"0.5\",\"0.3\",\"0.2\"]",
		"volume24hr": "999",
		"active": true,
		"closed": false
	}]`

	srv := serveFixture(t, fixture)
	client := polymarket.NewClient(srv.URL)

	markets, err := client.FetchActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, domain.MarketMulti, m.Type)
	require.Len(t, m.OutcomePrices, 3)
	assert.InDelta(t, 0.3, m.OutcomePrices["Bob"], 1e-9)

	price, ok := m.SidePrice("bob")
	assert.True(t, ok)
	assert.InDelta(t, 0.3, price, 1e-9)
}

func TestMapping_ArchivedWithoutWinnerIsCancelled(t *testing.T) {
	fixture := `[{
		"conditionId": "0xvoid",
		"question": "Cancelled event?",
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0.5\",\"0.5\"]",
		"volume24hr": "0",
		"active": false,
		"closed": true,
		"archived": true
	}]`

	srv := serveFixture(t, fixture)
	client := polymarket.NewClient(srv.URL)

	markets, err := client.FetchMarketsByIDs(context.Background(), []string{"0xvoid"})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, domain.MarketCancelled, markets[0].Status)
	assert.Empty(t, markets[0].Resolution)
}

func TestMapping_DropsEntriesWithoutConditionID(t *testing.T) {
	fixture := `[
		{"conditionId": "", "question": "bogus", "active": true, "closed": false},
		{"conditionId": "0xok", "outcomes": "[\"Yes\",\"No\"]",
		 "outcomePrices": "[\"0.5\",\"0.5\"]", "volume24hr": "1",
		 "active": true, "closed": false}
	]`

	srv := serveFixture(t, fixture)
	client := polymarket.NewClient(srv.URL)

	markets, err := client.FetchActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "0xok", markets[0].ID)
}
