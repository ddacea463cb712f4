package ports

import (
	"context"

	"github.com/alejandrodnm/arena/internal/domain"
)

// MarketData is the external price/resolution feed, mirrored locally before
// every cycle. The engine tolerates missing or invalid prices from it.
type MarketData interface {
	// FetchActiveMarkets returns currently tradeable markets, paginating up
	// to limit results.
	FetchActiveMarkets(ctx context.Context, limit int) ([]domain.Market, error)

	// FetchMarketsByIDs refreshes specific markets, including closed and
	// resolved ones the feed no longer lists as active.
	FetchMarketsByIDs(ctx context.Context, ids []string) ([]domain.Market, error)
}
